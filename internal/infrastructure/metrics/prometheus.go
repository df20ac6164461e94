// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dcl_metamorph"

var (
	// StaticImageDurationSeconds observes conversion duration for
	// StaticImage-class jobs (§6).
	// Labels:
	//   - size_bucket: "<1MB", "1-5MB", "5-10MB", ">10MB"
	//   - format: UASTC, ASTC, ASTC_HIGH
	StaticImageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "static_image_duration_seconds",
			Help:      "Conversion duration for static image jobs",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"size_bucket", "format"},
	)

	// MotionImageDurationSeconds observes conversion duration for
	// MotionImage-class jobs (animated WebP frame sequences routed
	// through the video encoder; GIF is classified as MotionVideo).
	MotionImageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "motion_image_duration_seconds",
			Help:      "Conversion duration for motion image jobs",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"size_bucket", "format"},
	)

	// MotionVideoDurationSeconds observes conversion duration for
	// MotionVideo-class jobs.
	MotionVideoDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "motion_video_duration_seconds",
			Help:      "Conversion duration for motion video jobs",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"size_bucket", "format"},
	)

	// SingleflightRequestsTotal tracks waiter-service singleflight
	// behavior (§4.5), carried over from the original cache layer's use
	// of the same pattern.
	// Labels:
	//   - result: initiated (new execution), shared (reused result)
	SingleflightRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_requests_total",
			Help:      "Total number of singleflight requests",
		},
		[]string{"result"},
	)
)

// Singleflight result constants.
const (
	SingleflightInitiated = "initiated"
	SingleflightShared    = "shared"
)

// SizeBucket classifies a byte count into the label values the three
// duration histograms use (§6).
func SizeBucket(bytes int64) string {
	const (
		mb   = 1 << 20
		mb5  = 5 * mb
		mb10 = 10 * mb
	)
	switch {
	case bytes < mb:
		return "<1MB"
	case bytes < mb5:
		return "1-5MB"
	case bytes < mb10:
		return "5-10MB"
	default:
		return ">10MB"
	}
}

// HistogramFor returns the histogram vector for a media class, given
// its file-type tag ("Image" or "Video") and whether the class is the
// animated/motion variant of that tag.
func HistogramFor(fileTypeTag string, motion bool) *prometheus.HistogramVec {
	switch {
	case fileTypeTag == "Image" && motion:
		return MotionImageDurationSeconds
	case fileTypeTag == "Image":
		return StaticImageDurationSeconds
	case fileTypeTag == "Video":
		return MotionVideoDurationSeconds
	default:
		return StaticImageDurationSeconds
	}
}
