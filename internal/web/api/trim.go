package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/recap/internal/conf"
	"github.com/gowvp/recap/internal/core/capture"
	"github.com/gowvp/recap/internal/core/timeline"
	"github.com/gowvp/recap/internal/core/trim"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

// TrimAPI 无损剪辑接口
// 同一时间只有一个剪辑任务，新任务的结果替换旧任务
type TrimAPI struct {
	trimCore    *trim.Core
	captureCore capture.Core
	analysisAPI AnalysisAPI
	job         *trimJob
}

type trimJob struct {
	mu          sync.Mutex
	recordingID int64
	running     bool
	progress    int
	result      *trim.Result
	err         error
}

func NewTrimCore(cfg *conf.Bootstrap) *trim.Core {
	return trim.NewCore(cfg)
}

func NewTrimAPI(core *trim.Core, captureCore capture.Core, analysisAPI AnalysisAPI) TrimAPI {
	return TrimAPI{
		trimCore:    core,
		captureCore: captureCore,
		analysisAPI: analysisAPI,
		job:         &trimJob{},
	}
}

func RegisterTrim(g gin.IRouter, api TrimAPI, handler ...gin.HandlerFunc) {
	g.POST("/recordings/:id/trim", append(handler, web.WrapH(api.startTrim))...)
	g.GET("/trim", web.WrapH(api.getTrim))
	g.GET("/trim/download", api.downloadTrim)
}

type startTrimInput struct {
	// 时间轴片段，省略时使用该录像最近一次完成的分析结果
	Segments []timeline.Segment `json:"segments"`
}

// startTrim 启动剪辑任务，立即返回，进度走 getTrim 轮询
func (a TrimAPI) startTrim(c *gin.Context, in *startTrimInput) (any, error) {
	id, err := parseRecordingID(c)
	if err != nil {
		return nil, err
	}

	a.job.mu.Lock()
	if a.job.running {
		a.job.mu.Unlock()
		return nil, reason.ErrBadRequest.Withf("another trim is in progress")
	}

	segments := in.Segments
	if len(segments) == 0 {
		var ok bool
		segments, ok = a.analysisAPI.segmentsFor(id)
		if !ok {
			a.job.mu.Unlock()
			return nil, reason.ErrBadRequest.Withf("no segments: run analysis first or pass segments")
		}
	}

	rec, err := a.captureCore.GetRecording(c.Request.Context(), id)
	if err != nil {
		a.job.mu.Unlock()
		return nil, err
	}

	a.job.recordingID = id
	a.job.running = true
	a.job.progress = 0
	a.job.result = nil
	a.job.err = nil
	a.job.mu.Unlock()

	go func() {
		result, err := a.trimCore.Trim(context.Background(), rec.Path, segments, func(p int) {
			a.job.mu.Lock()
			a.job.progress = p
			a.job.mu.Unlock()
		})
		a.job.mu.Lock()
		a.job.running = false
		a.job.result, a.job.err = result, err
		a.job.mu.Unlock()
	}()

	return gin.H{"recording_id": id, "segments": len(segments)}, nil
}

type trimOutput struct {
	RecordingID int64        `json:"recording_id"`
	State       string       `json:"state"` // idle / running / done / error
	Progress    int          `json:"progress"`
	Result      *trim.Result `json:"result,omitempty"`
	Msg         string       `json:"msg,omitempty"`
}

// getTrim 查询剪辑进度与结果
func (a TrimAPI) getTrim(_ *gin.Context, _ *struct{}) (*trimOutput, error) {
	a.job.mu.Lock()
	defer a.job.mu.Unlock()

	out := trimOutput{RecordingID: a.job.recordingID, Progress: a.job.progress}
	switch {
	case a.job.running:
		out.State = "running"
	case a.job.err != nil:
		out.State = "error"
		out.Msg = a.job.err.Error()
	case a.job.result != nil:
		out.State = "done"
		out.Result = a.job.result
	default:
		out.State = "idle"
	}
	return &out, nil
}

// downloadTrim 下载剪辑产物
func (a TrimAPI) downloadTrim(c *gin.Context) {
	a.job.mu.Lock()
	result := a.job.result
	running := a.job.running
	a.job.mu.Unlock()

	if running || result == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": 1, "msg": "no finished trim"})
		return
	}
	if _, err := os.Stat(result.OutputPath); os.IsNotExist(err) {
		c.JSON(http.StatusNotFound, gin.H{"code": 1, "msg": "trimmed file not found"})
		return
	}

	fileName := filepath.Base(result.OutputPath)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", fileName))
	c.File(result.OutputPath)
}
