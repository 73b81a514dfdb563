package http

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/bulwark/app"
	"github.com/artpar/bulwark/domain/audit"
)

// AuditWrap records exactly one audit entry for every call to next, after
// the response is finalized. A panicking handler is recorded as a 500
// failure and the panic is passed on. An actor set with WithActor anywhere
// inside next is the one recorded.
func AuditWrap(svc *app.AuditService, action string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ctx, actor := withActorSlot(r.Context())

			defer func() {
				rec := recover()

				status := ww.Status()
				switch {
				case rec != nil:
					status = http.StatusInternalServerError
				case status == 0:
					status = http.StatusOK
				}

				svc.Record(r.Context(), action, actor.id, audit.ResultFromStatus(status), map[string]any{
					audit.DetailMethod:     r.Method,
					audit.DetailPath:       r.URL.Path,
					audit.DetailIP:         ClientIP(r),
					audit.DetailUserAgent:  SummarizeUserAgent(r.UserAgent()),
					audit.DetailStatusCode: status,
					audit.DetailRequestID:  middleware.GetReqID(r.Context()),
				})

				if rec != nil {
					panic(rec)
				}
			}()

			next.ServeHTTP(ww, r.WithContext(ctx))
		})
	}
}
