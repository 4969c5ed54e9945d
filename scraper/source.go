package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aluiziolira/ss-monitor/config"
	"github.com/aluiziolira/ss-monitor/models"
	"github.com/aluiziolira/ss-monitor/parser"
)

// PageFetcher is the transport the source reads pages through.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

// Source produces the current snapshot of a section by walking its listing pages.
type Source struct {
	fetcher  PageFetcher
	maxPages int
	metrics  *Metrics
}

// NewSource builds a snapshot source reading through fetcher.
func NewSource(fetcher PageFetcher, cfg *config.Config, metrics *Metrics) *Source {
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	return &Source{fetcher: fetcher, maxPages: maxPages, metrics: metrics}
}

// Snapshot fetches every listing page of targetURL. A failure on the first page is
// returned as an error so the caller can skip reconciliation; failures on later pages
// end pagination with what was collected so far.
func (s *Source) Snapshot(ctx context.Context, targetURL string) ([]models.Listing, error) {
	category, _, err := models.ParseTargetURL(targetURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var snapshot []models.Listing

	for page := 1; page <= s.maxPages; page++ {
		pageURL := PageURL(targetURL, page)
		body, err := s.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			slog.Warn("stopping pagination after page error",
				slog.String("url", pageURL),
				slog.Int("page", page),
				slog.Any("error", err),
			)
			break
		}

		listings, report, err := parser.ExtractListings(body, pageURL)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("extract %s: %w", pageURL, err)
			}
			slog.Warn("stopping pagination after extract error", slog.String("url", pageURL), slog.Any("error", err))
			break
		}
		s.metrics.AddExtracted(report.Extracted, report.Skipped)
		slog.Debug("listing page extracted",
			slog.String("url", pageURL),
			slog.Int("rows", report.Rows),
			slog.Int("extracted", report.Extracted),
			slog.Int("skipped", report.Skipped),
		)

		added := 0
		for _, l := range listings {
			if _, dup := seen[l.ExternalID]; dup {
				continue
			}
			seen[l.ExternalID] = struct{}{}
			l.Category = category
			snapshot = append(snapshot, l)
			added++
		}

		// Past the last page the site serves the first page again.
		if added == 0 {
			break
		}
	}

	return snapshot, nil
}

// PageURL builds the URL of a listing page, restricting the section to sale ads
// unless the target already names a deal type.
func PageURL(targetURL string, page int) string {
	base := strings.TrimRight(strings.TrimSpace(targetURL), "/") + "/"
	switch {
	case strings.HasSuffix(base, "/sell/"), strings.HasSuffix(base, "/hand_over/"),
		strings.HasSuffix(base, "/buy/"), strings.HasSuffix(base, "/change/"):
	case strings.HasSuffix(base, "/all/"):
		base += "sell/"
	default:
		base += "all/sell/"
	}
	if page <= 1 {
		return base
	}
	return fmt.Sprintf("%spage%d.html", base, page)
}
