package booking

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
)

// ExpediaClient drives the travel site through a headless browser. It is a
// collaborator boundary: the orchestrator only sees the Pipeline contract,
// and tests substitute a fake.
type ExpediaClient struct {
	SiteURL  string
	Headless bool
	Timeout  time.Duration
}

// Book logs in with the participant's site credentials, books the flight leg
// and the hotel leg, and returns a confirmation summary. Failures surface as
// errors; there are no partial retries here.
func (c *ExpediaClient) Book(ctx context.Context, req Request) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.Headless),
		chromedp.UserAgent("CaravanBooking/1.0"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	if err := c.login(bctx, req); err != nil {
		return "", fmt.Errorf("site login failed: %w", err)
	}

	flightHTML, err := c.runFlow(bctx, c.flightURL(req))
	if err != nil {
		return "", fmt.Errorf("flight booking failed: %w", err)
	}
	hotelHTML, err := c.runFlow(bctx, c.hotelURL(req))
	if err != nil {
		return "", fmt.Errorf("hotel booking failed: %w", err)
	}

	flightConf := extractConfirmation(flightHTML)
	hotelConf := extractConfirmation(hotelHTML)
	detail := fmt.Sprintf("flight confirmation: %s; hotel confirmation: %s", flightConf, hotelConf)
	if summary := pageSummary(hotelHTML, c.SiteURL); summary != "" {
		detail += "; " + summary
	}
	return detail, nil
}

func (c *ExpediaClient) login(ctx context.Context, req Request) error {
	return chromedp.Run(ctx,
		chromedp.Navigate(c.SiteURL+"/login"),
		chromedp.WaitVisible(`input[type="email"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[type="email"]`, req.Credentials.SiteEmail, chromedp.ByQuery),
		chromedp.SendKeys(`input[type="password"]`, req.Credentials.SitePassword, chromedp.ByQuery),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// runFlow navigates a booking flow page and returns the final HTML.
func (c *ExpediaClient) runFlow(ctx context.Context, target string) (string, error) {
	var html string
	err := chromedp.Run(ctx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func (c *ExpediaClient) flightURL(req Request) string {
	q := url.Values{}
	q.Set("leg1", fmt.Sprintf("from:%s,to:%s,departure:%s", req.Plan.Flight.Origin, req.Plan.Flight.Destination, req.Plan.Dates.DepartureDate))
	q.Set("leg2", fmt.Sprintf("from:%s,to:%s,departure:%s", req.Plan.Flight.Destination, req.Plan.Flight.Origin, req.Plan.Dates.ReturnDate))
	q.Set("passengers", "adults:1")
	return c.SiteURL + "/Flights-Search?" + q.Encode()
}

func (c *ExpediaClient) hotelURL(req Request) string {
	q := url.Values{}
	q.Set("destination", req.Plan.Hotel.Location)
	q.Set("startDate", req.Plan.Dates.DepartureDate)
	q.Set("endDate", req.Plan.Dates.ReturnDate)
	q.Set("adults", "1")
	return c.SiteURL + "/Hotel-Search?" + q.Encode()
}

// extractConfirmation scrapes a confirmation number out of a result page.
func extractConfirmation(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "unknown"
	}
	conf := strings.TrimSpace(doc.Find("[data-test-id=confirmation-number]").First().Text())
	if conf == "" {
		conf = strings.TrimSpace(doc.Find(".confirmation-number").First().Text())
	}
	if conf == "" {
		return "unknown"
	}
	return conf
}

// pageSummary extracts readable text from a result page for the booking
// detail record.
func pageSummary(html, base string) string {
	u, err := url.Parse(base)
	if err != nil {
		u = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(article.TextContent)
	if len(text) > 300 {
		text = text[:300]
	}
	return text
}
