// Package metrics provides Prometheus metrics for the filedrift server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedrift_uploads_total",
			Help: "Total number of file uploads",
		},
		[]string{"bucket", "status"},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedrift_downloads_total",
			Help: "Total number of file downloads",
		},
		[]string{"bucket", "status"},
	)

	deletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedrift_deletes_total",
			Help: "Total number of deleted metadata entries",
		},
		[]string{"bucket"},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filedrift_bytes_uploaded_total",
			Help: "Total bytes written to blob stores",
		},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filedrift_bytes_downloaded_total",
			Help: "Total bytes streamed from blob stores",
		},
	)

	permissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedrift_permission_checks_total",
			Help: "Permission check outcomes",
		},
		[]string{"allowed"},
	)

	blobOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filedrift_blob_operation_duration_seconds",
			Help:    "Blob store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store", "operation"},
	)

	orphansSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filedrift_orphan_blobs_swept_total",
			Help: "Orphaned blobs removed by the garbage sweeper",
		},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedrift_http_requests_total",
			Help: "HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filedrift_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// RecordUpload records an upload attempt.
func RecordUpload(bucket string, bytes int64, ok bool) {
	uploadsTotal.WithLabelValues(bucket, status(ok)).Inc()
	if ok {
		bytesUploaded.Add(float64(bytes))
	}
}

// RecordDownload records a download attempt.
func RecordDownload(bucket string, bytes int64, ok bool) {
	downloadsTotal.WithLabelValues(bucket, status(ok)).Inc()
	if ok {
		bytesDownloaded.Add(float64(bytes))
	}
}

// RecordDelete records n deleted metadata entries.
func RecordDelete(bucket string, n int64) {
	deletesTotal.WithLabelValues(bucket).Add(float64(n))
}

// RecordPermissionCheck records a permission check outcome.
func RecordPermissionCheck(allowed bool) {
	if allowed {
		permissionChecks.WithLabelValues("true").Inc()
	} else {
		permissionChecks.WithLabelValues("false").Inc()
	}
}

// RecordBlobOperation records the duration of a blob store operation.
func RecordBlobOperation(store, operation string, d time.Duration) {
	blobOpDuration.WithLabelValues(store, operation).Observe(d.Seconds())
}

// RecordOrphansSwept records blobs removed by the sweeper.
func RecordOrphansSwept(n int) {
	orphansSwept.Add(float64(n))
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// Middleware records request counts and durations.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
