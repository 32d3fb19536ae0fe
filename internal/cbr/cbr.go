// Package cbr loads the precious-metal accounting prices and the USD
// exchange rate published by the Central Bank of Russia.
package cbr

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/numisdata/lotvalue/internal/fetcher"
	"github.com/numisdata/lotvalue/internal/model"
)

// DefaultBaseURL is the root of the CBR XML scripts.
const DefaultBaseURL = "https://www.cbr.ru/scripts"

// USDValuteID is the CBR identifier of the US dollar.
const USDValuteID = "R01235"

const (
	queryDateLayout = "02/01/2006"
	replyDateLayout = "02.01.2006"
)

// Metal codes used by xml_metall.asp.
const (
	codeGold      = "1"
	codeSilver    = "2"
	codePlatinum  = "3"
	codePalladium = "4"
)

// Client queries the CBR XML endpoints.
type Client struct {
	fetcher fetcher.Fetcher
	baseURL string
}

// New creates a Client. An empty baseURL selects DefaultBaseURL.
func New(f fetcher.Fetcher, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{fetcher: f, baseURL: strings.TrimRight(baseURL, "/")}
}

type metallDoc struct {
	Records []struct {
		Date string `xml:"Date,attr"`
		Code string `xml:"Code,attr"`
		Buy  string `xml:"Buy"`
		Sell string `xml:"Sell"`
	} `xml:"Record"`
}

type dynamicDoc struct {
	Records []struct {
		Date    string `xml:"Date,attr"`
		Nominal string `xml:"Nominal"`
		Value   string `xml:"Value"`
	} `xml:"Record"`
}

// Metals returns per-gram rouble prices for every date in [from, to] on
// which the bank published a quote, ordered by date.
func (c *Client) Metals(ctx context.Context, from, to time.Time) ([]model.MetalsPriceObservation, error) {
	var doc metallDoc
	if err := c.get(ctx, "xml_metall.asp", url.Values{
		"date_req1": {from.Format(queryDateLayout)},
		"date_req2": {to.Format(queryDateLayout)},
	}, &doc); err != nil {
		return nil, eris.Wrap(err, "cbr: metals")
	}

	byDate := make(map[time.Time]*model.MetalsPriceObservation)
	for _, r := range doc.Records {
		day, err := time.Parse(replyDateLayout, r.Date)
		if err != nil {
			return nil, eris.Wrapf(err, "cbr: metals record date %q", r.Date)
		}
		raw := r.Buy
		if strings.TrimSpace(raw) == "" {
			raw = r.Sell
		}
		price, err := ParseDecimal(raw)
		if err != nil {
			zap.L().Warn("cbr: skipping unparseable metals price",
				zap.String("date", r.Date), zap.String("code", r.Code), zap.String("value", raw))
			continue
		}

		obs, ok := byDate[day]
		if !ok {
			obs = &model.MetalsPriceObservation{Date: day}
			byDate[day] = obs
		}
		switch r.Code {
		case codeGold:
			obs.Gold = model.Float(price)
		case codeSilver:
			obs.Silver = model.Float(price)
		case codePlatinum:
			obs.Platinum = model.Float(price)
		case codePalladium:
			obs.Palladium = model.Float(price)
		}
	}

	out := make([]model.MetalsPriceObservation, 0, len(byDate))
	for _, obs := range byDate {
		out = append(out, *obs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// USDRates returns the official RUB per USD rate for each published date
// in [from, to].
func (c *Client) USDRates(ctx context.Context, from, to time.Time) (map[time.Time]float64, error) {
	var doc dynamicDoc
	if err := c.get(ctx, "XML_dynamic.asp", url.Values{
		"date_req1":  {from.Format(queryDateLayout)},
		"date_req2":  {to.Format(queryDateLayout)},
		"VAL_NM_RQ": {USDValuteID},
	}, &doc); err != nil {
		return nil, eris.Wrap(err, "cbr: usd rates")
	}

	rates := make(map[time.Time]float64, len(doc.Records))
	for _, r := range doc.Records {
		day, err := time.Parse(replyDateLayout, r.Date)
		if err != nil {
			return nil, eris.Wrapf(err, "cbr: usd record date %q", r.Date)
		}
		value, err := ParseDecimal(r.Value)
		if err != nil {
			return nil, eris.Wrapf(err, "cbr: usd rate on %s", r.Date)
		}
		nominal := 1.0
		if r.Nominal != "" {
			if nominal, err = ParseDecimal(r.Nominal); err != nil || nominal == 0 {
				return nil, eris.Errorf("cbr: bad nominal %q on %s", r.Nominal, r.Date)
			}
		}
		rates[day] = value / nominal
	}
	return rates, nil
}

// Observations merges metals prices with the USD rate of the same date.
func (c *Client) Observations(ctx context.Context, from, to time.Time) ([]model.MetalsPriceObservation, error) {
	obs, err := c.Metals(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, nil
	}
	rates, err := c.USDRates(ctx, from, to)
	if err != nil {
		return nil, err
	}
	for i := range obs {
		if r, ok := rates[obs[i].Date]; ok {
			obs[i].USDRate = model.Float(r)
		}
	}
	return obs, nil
}

func (c *Client) get(ctx context.Context, script string, q url.Values, v any) error {
	u := fmt.Sprintf("%s/%s?%s", c.baseURL, script, q.Encode())
	body, err := c.fetcher.Download(ctx, u)
	if err != nil {
		return err
	}
	defer body.Close() //nolint:errcheck
	return fetcher.DecodeXML(io.LimitReader(body, 16<<20), v)
}

// ParseDecimal parses CBR-style numbers: comma decimal separator and
// optional space or non-breaking-space thousands separators.
func ParseDecimal(s string) (float64, error) {
	s = strings.NewReplacer(" ", "", "\u00a0", "", ",", ".").Replace(strings.TrimSpace(s))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "cbr: parse decimal %q", s)
	}
	return v, nil
}
