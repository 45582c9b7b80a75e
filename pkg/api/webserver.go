package api

import (
	"errors"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/perception"
	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/utils"
	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/video"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
)

//StampHeader carries the stamp of the served annotated frame
const StampHeader = "X-Stamp"

//SetRouter builds the HTTP surface: message ingestion, annotated output and recordings
func SetRouter(v *video.Visualizer, latest *video.LatestFrame, hub *Hub) *gin.Engine {
	r := gin.Default()

	apiRoutes := r.Group("/api")

	apiRoutes.POST("/image", func(ctx *gin.Context) {
		query := ctx.Request.URL.Query()

		stamp, err := perception.ParseStamp(query.Get("stamp"))
		if err != nil {
			ctx.String(http.StatusBadRequest, err.Error())
			return
		}

		frame := video.Frame{Stamp: stamp, Encoding: query.Get("encoding")}
		if frame.Encoding == "" {
			frame.Encoding = video.EncodingBGR8
		}

		for key, dst := range map[string]*int{"width": &frame.Width, "height": &frame.Height} {
			if raw := query.Get(key); raw != "" {
				if *dst, err = strconv.Atoi(raw); err != nil {
					ctx.String(http.StatusBadRequest, "invalid %s '%s'", key, raw)
					return
				}
			}
		}

		if frame.Data, err = ioutil.ReadAll(ctx.Request.Body); err != nil {
			log.Printf("api/image: Could not read request's body, got '%v'", err)
			ctx.Status(http.StatusBadRequest)
			return
		}

		respond(ctx, v.OnImage(frame))
	})

	apiRoutes.POST("/rois", func(ctx *gin.Context) {
		var rois perception.ROIArray
		if err := ctx.ShouldBindJSON(&rois); err != nil {
			ctx.String(http.StatusBadRequest, err.Error())
			return
		}

		respond(ctx, v.OnROIs(rois))
	})

	apiRoutes.POST("/rough_rois", func(ctx *gin.Context) {
		var rois perception.ROIArray
		if err := ctx.ShouldBindJSON(&rois); err != nil {
			ctx.String(http.StatusBadRequest, err.Error())
			return
		}

		respond(ctx, v.OnRoughROIs(rois))
	})

	apiRoutes.POST("/signals", func(ctx *gin.Context) {
		var signals perception.SignalArray
		if err := ctx.ShouldBindJSON(&signals); err != nil {
			ctx.String(http.StatusBadRequest, err.Error())
			return
		}

		respond(ctx, v.OnSignals(signals))
	})

	apiRoutes.GET("/annotated", func(ctx *gin.Context) {
		jpeg, stamp, err := latest.Get()
		if err != nil {
			ctx.Status(http.StatusNotFound) //nothing rendered yet
			return
		}

		ctx.Header(StampHeader, stamp.UTC().Format(time.RFC3339Nano))
		ctx.Data(http.StatusOK, "image/jpeg", jpeg)
	})

	apiRoutes.GET("/view", func(ctx *gin.Context) {
		hub.ServeViewer(ctx.Writer, ctx.Request)
	})

	apiRoutes.GET("/stats", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"visualizer":     v.Stats(),
			"viewers":        hub.Subscribers(),
			"viewer_dropped": hub.Dropped(),
		})
	})

	apiRoutes.GET("/recordings", func(ctx *gin.Context) {
		if names, err := utils.ListDir(viper.GetString(utils.KeyReadyDir)); err != nil {
			ctx.Status(http.StatusInternalServerError)
		} else {
			ctx.JSON(http.StatusOK, names)
		}
	})

	apiRoutes.GET("/recordings/play", func(ctx *gin.Context) {
		videoName := ctx.Request.URL.Query().Get("name")
		if videoName == "" || filepath.Base(videoName) != videoName {
			ctx.Status(http.StatusBadRequest) //missing or not a plain file name
			return
		}

		if !strings.HasSuffix(videoName, "."+video.RecordingExt) {
			videoName += "." + video.RecordingExt
		}

		videoPath := path.Join(viper.GetString(utils.KeyReadyDir), videoName)
		if _, err := os.Stat(videoPath); err != nil {
			if os.IsNotExist(err) {
				ctx.Status(http.StatusNotFound)
			} else {
				ctx.Status(http.StatusInternalServerError)
			}
			return
		}

		ctx.Header("Content-Type", "video/x-msvideo")
		http.ServeFile(ctx.Writer, ctx.Request, videoPath)
	})

	return r
}

//respond maps the result of feeding a message to the visualizer onto a status code
func respond(ctx *gin.Context, err error) {
	switch {
	case err == nil:
		ctx.Status(http.StatusAccepted)
	case errors.Is(err, video.ErrStreamDisabled):
		ctx.String(http.StatusConflict, err.Error())
	default:
		ctx.String(http.StatusBadRequest, err.Error())
	}
}
