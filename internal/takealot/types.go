package takealot

import (
	"time"

	"github.com/sellerops/marketsync/internal/models"
)

// PageRequest describes one page fetch against the seller API.
type PageRequest struct {
	Kind     models.DataKind
	APIKey   string
	Endpoint string
	Page     int
	PageSize int

	// Date window, applied upstream when set. The API returns sales in
	// descending order of order date.
	StartDate *time.Time
	EndDate   *time.Time
}

// Page is the parsed result of one page fetch.
type Page struct {
	Records    []models.RawRecord
	Total      int // total record count reported upstream, -1 when absent
	StatusCode int
	ProxyUsed  string
}

// pageEnvelope covers both response shapes the seller API produces: offers
// pages carry total_results at the top level, sales pages carry a
// page_summary block.
type pageEnvelope struct {
	Offers       []models.RawRecord `json:"offers"`
	Sales        []models.RawRecord `json:"sales"`
	TotalResults *int               `json:"total_results"`
	PageSummary  *struct {
		Total int `json:"total"`
	} `json:"page_summary"`
}

func (e *pageEnvelope) records(kind models.DataKind) []models.RawRecord {
	if kind == models.DataKindProducts {
		return e.Offers
	}
	return e.Sales
}

func (e *pageEnvelope) total() int {
	if e.TotalResults != nil {
		return *e.TotalResults
	}
	if e.PageSummary != nil {
		return e.PageSummary.Total
	}
	return -1
}
