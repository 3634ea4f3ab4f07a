package extract

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/registry-graph-crawler/internal/crawler"
	"github.com/JakeFAU/registry-graph-crawler/internal/logging"
	"github.com/JakeFAU/registry-graph-crawler/internal/metrics"
)

// VATResolver looks up a company's VAT number. Implementations never fail:
// any problem degrades to crawler.Null.
type VATResolver interface {
	ResolveVAT(ctx context.Context, id crawler.Identifier) string
}

// HTTPVATResolver queries the registry's VAT endpoint.
type HTTPVATResolver struct {
	fetcher     crawler.Fetcher
	urlTemplate string
	logger      *zap.Logger
}

// NewHTTPVATResolver builds a resolver. urlTemplate holds a single %d verb
// for the register code.
func NewHTTPVATResolver(fetcher crawler.Fetcher, urlTemplate string, logger *zap.Logger) *HTTPVATResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPVATResolver{fetcher: fetcher, urlTemplate: urlTemplate, logger: logger}
}

// ResolveVAT implements VATResolver.
func (r *HTTPVATResolver) ResolveVAT(ctx context.Context, id crawler.Identifier) string {
	resp, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL: fmt.Sprintf(r.urlTemplate, int64(id)),
	})
	metrics.ObserveFetch(metrics.TargetVAT, resp.StatusCode, resp.Duration)
	if err != nil {
		r.logger.Warn("vat lookup failed", logging.RC(id), zap.Error(err))
		return crawler.Null
	}
	return ParseVATResponse(string(resp.Body))
}
