package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/ss-monitor/models"
)

var rowIDRegexp = regexp.MustCompile(`^tr_(\d+)`)

// ExtractReport counts what happened to the rows of one listing page.
type ExtractReport struct {
	Rows      int
	Extracted int
	Skipped   int
}

// ExtractListings parses a section page and returns one listing per advertisement row.
// Rows that cannot be read are skipped and counted, never fatal.
func ExtractListings(body []byte, pageURL string) ([]models.Listing, ExtractReport, error) {
	var report ExtractReport

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, report, fmt.Errorf("parse listing page: %w", err)
	}

	base, _ := url.Parse(pageURL)

	var listings []models.Listing
	doc.Find(`tr[id^="tr_"]`).Each(func(_ int, row *goquery.Selection) {
		id, _ := row.Attr("id")
		m := rowIDRegexp.FindStringSubmatch(id)
		if m == nil {
			// banner and header rows share the prefix
			return
		}
		report.Rows++

		listing, ok := extractRow(row, m[1], base)
		if !ok {
			report.Skipped++
			return
		}
		if err := listing.Validate(); err != nil {
			report.Skipped++
			return
		}
		report.Extracted++
		listings = append(listings, listing)
	})

	return listings, report, nil
}

func extractRow(row *goquery.Selection, externalID string, base *url.URL) (models.Listing, bool) {
	link := row.Find("a.am").First()
	title := NormalizeText(link.Text())
	href, _ := link.Attr("href")
	if title == "" || strings.TrimSpace(href) == "" {
		return models.Listing{}, false
	}

	cells := row.Find("td.msga2-o")
	if cells.Length() < 4 {
		return models.Listing{}, false
	}

	floor, totalFloors := ParseFloor(cells.Eq(3).Text())
	price := ParsePrice(cells.Last().Text())

	listing := models.Listing{
		ExternalID:  externalID,
		Title:       title,
		URL:         resolve(base, href),
		Price:       price.Price,
		Currency:    price.Currency,
		Recurring:   price.Recurring,
		Location:    NormalizeText(cells.Eq(0).Text()),
		Rooms:       ParseRooms(cells.Eq(1).Text()),
		Area:        ParseArea(cells.Eq(2).Text()),
		Floor:       floor,
		TotalFloors: totalFloors,
		Category:    CategoryFromTitle(title),
		Description: title,
	}

	if src, ok := row.Find("img").First().Attr("src"); ok && strings.TrimSpace(src) != "" {
		listing.ImageURL = resolve(base, src)
	}

	return listing, true
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
