package utils

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

//Configuration keys, dotted as in config.yaml. Every key can be overridden by an environment variable with dots
//replaced by underscores (sync.queue_size -> SYNC_QUEUE_SIZE).
const (
	KeyHTTPPort              = "http.port"
	KeyEnableFineDetection   = "visualizer.enable_fine_detection"
	KeyLazySubscribe         = "visualizer.lazy_subscribe"
	KeySubscriberCheckPeriod = "visualizer.subscriber_check_period"
	KeyPollTimeout           = "visualizer.poll_timeout"
	KeySyncQueueSize         = "sync.queue_size"
	KeySyncMaxInterval       = "sync.max_interval"
	KeySyncAgePenalty        = "sync.age_penalty"
	KeyRoughROIColor         = "render.rough_roi_color"
	KeyRectThickness         = "render.thickness"
	KeyRootDir               = "directory.root"
	KeyReadyDir              = "directory.ready"
	KeyRecord                = "output.record"
	KeyRecordFPS             = "output.fps"
	KeyFeedCommand           = "feed.command"
)

//DefaultQueueSize is the number of pending messages kept per input stream
const DefaultQueueSize = 10

//DefaultMaxInterval is the widest allowed timestamp span of a synchronized tuple
const DefaultMaxInterval = 100 * time.Millisecond

//DefaultAgePenalty biases synchronization toward older tuples
const DefaultAgePenalty = 0.1

//DefaultRoughROIColor is the outline color of rough ROIs, "R,G,B"
const DefaultRoughROIColor = "0,255,0"

//DefaultRectThickness is the outline thickness of drawn ROIs in pixels
const DefaultRectThickness = 2

//DefaultPollTimeout is how long one poll of the annotated frame keeps lazy inputs connected
const DefaultPollTimeout = 5 * time.Second

//DefaultRecordFPS is the frame rate written to recorded videos
const DefaultRecordFPS = 10

//SetDefaults registers default values and environment overrides on the global viper instance
func SetDefaults() {
	viper.SetDefault(KeyHTTPPort, "8080")
	viper.SetDefault(KeyEnableFineDetection, false)
	viper.SetDefault(KeyLazySubscribe, false)
	viper.SetDefault(KeySubscriberCheckPeriod, 100*time.Millisecond)
	viper.SetDefault(KeyPollTimeout, DefaultPollTimeout)
	viper.SetDefault(KeySyncQueueSize, DefaultQueueSize)
	viper.SetDefault(KeySyncMaxInterval, DefaultMaxInterval)
	viper.SetDefault(KeySyncAgePenalty, DefaultAgePenalty)
	viper.SetDefault(KeyRoughROIColor, DefaultRoughROIColor)
	viper.SetDefault(KeyRectThickness, DefaultRectThickness)
	viper.SetDefault(KeyRootDir, "./data")
	viper.SetDefault(KeyReadyDir, "./data/ready")
	viper.SetDefault(KeyRecord, false)
	viper.SetDefault(KeyRecordFPS, DefaultRecordFPS)
	viper.SetDefault(KeyFeedCommand, "")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
