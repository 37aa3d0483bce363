package model

// PageType categorizes the URLs configured for a crawl target.
type PageType string

const (
	PageTypeBilling  PageType = "billing"
	PageTypeCoverage PageType = "coverage"
	PageTypeProducts PageType = "products"
	PageTypePress    PageType = "press"
	PageTypeInvestor PageType = "investor"
)

// PageTypes lists all known page types in a stable order.
func PageTypes() []PageType {
	return []PageType{PageTypeBilling, PageTypeCoverage, PageTypeProducts, PageTypePress, PageTypeInvestor}
}

// Target is an immutable crawl target loaded from the registry at startup.
// A target is one payer or lab benefit manager web property; each page type
// may carry multiple URLs.
type Target struct {
	PayerID                string                `yaml:"payer_id" json:"payer_id"`
	DisplayName            string                `yaml:"display_name" json:"display_name"`
	Tier                   int                   `yaml:"tier" json:"tier"`
	URLsByPageType         map[PageType][]string `yaml:"urls_by_page_type" json:"urls_by_page_type"`
	RequiresLegacyProtocol bool                  `yaml:"requires_legacy_protocol" json:"requires_legacy_protocol"`
}

// AllURLs returns every configured URL with its page type, in the stable
// page-type order.
func (t Target) AllURLs() []TargetURL {
	var urls []TargetURL
	for _, pt := range PageTypes() {
		for _, u := range t.URLsByPageType[pt] {
			urls = append(urls, TargetURL{PageType: pt, URL: u})
		}
	}
	return urls
}

// TargetURL pairs a URL with its configured page type.
type TargetURL struct {
	PageType PageType `json:"page_type"`
	URL      string   `json:"url"`
}
