package routes

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"lendify/gateway/middleware"
)

// newAnalyticsProxy forwards /analytics requests to the analytics service
// unchanged, so the gateway can front both APIs on one listener.
func newAnalyticsProxy(target *url.URL, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			otel.GetTextMapPropagator().Inject(pr.Out.Context(), propagation.HeaderCarrier(pr.Out.Header))
		},
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("analytics upstream failed",
				slog.String("target", target.Host),
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
			middleware.WriteError(w, http.StatusBadGateway, "upstream_unavailable", "analytics service unavailable")
		},
	}
}
