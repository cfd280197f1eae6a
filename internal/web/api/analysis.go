package api

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/recap/internal/conf"
	"github.com/gowvp/recap/internal/core/analysis"
	"github.com/gowvp/recap/internal/core/capture"
	"github.com/gowvp/recap/internal/core/timeline"
	"github.com/ixugo/goddd/pkg/conc"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

// AnalysisAPI 死区分析接口，按录像 ID 维护分析任务
type AnalysisAPI struct {
	analysisCore analysis.Core
	captureCore  capture.Core
	runs         *conc.Map[int64, *analysis.Run]
}

func NewAnalysisCore(cfg *conf.Bootstrap) analysis.Core {
	return analysis.NewCore(cfg)
}

func NewAnalysisAPI(core analysis.Core, captureCore capture.Core) AnalysisAPI {
	return AnalysisAPI{
		analysisCore: core,
		captureCore:  captureCore,
		runs:         conc.NewMap[int64, *analysis.Run](),
	}
}

func RegisterAnalysis(g gin.IRouter, api AnalysisAPI, handler ...gin.HandlerFunc) {
	group := g.Group("/recordings/:id/analysis", handler...)
	group.POST("", web.WrapH(api.startAnalysis))
	group.GET("", web.WrapH(api.getAnalysis))
	group.DELETE("", web.WrapH(api.cancelAnalysis))

	g.GET("/recordings/:id/playlist.m3u8", api.playlist)
}

type analysisOutput struct {
	RecordingID int64              `json:"recording_id"`
	State       string             `json:"state"` // running / done / canceled / error
	Progress    int                `json:"progress"`
	Segments    []timeline.Segment `json:"segments,omitempty"`
	DeadTotal   float64            `json:"dead_time_total"`
	Msg         string             `json:"msg,omitempty"`
}

// startAnalysis 对录像启动一次死区分析
// 同一录像的上一次分析还在跑时拒绝，结果不做历史版本
func (a AnalysisAPI) startAnalysis(c *gin.Context, _ *struct{}) (any, error) {
	id, err := parseRecordingID(c)
	if err != nil {
		return nil, err
	}
	if run, ok := a.runs.Load(id); ok {
		select {
		case <-run.Done():
		default:
			return nil, reason.ErrBadRequest.Withf("analysis already running for recording [%d]", id)
		}
	}

	rec, err := a.captureCore.GetRecording(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}

	run := a.analysisCore.StartAnalysis(rec.Path, rec.Protected)
	a.runs.Store(id, run)
	return gin.H{"recording_id": id, "progress": run.Progress()}, nil
}

// getAnalysis 查询分析进度与结果
func (a AnalysisAPI) getAnalysis(c *gin.Context, _ *struct{}) (*analysisOutput, error) {
	id, err := parseRecordingID(c)
	if err != nil {
		return nil, err
	}
	run, ok := a.runs.Load(id)
	if !ok {
		return nil, reason.ErrNotFound.Withf("no analysis for recording [%d]", id)
	}

	out := analysisOutput{RecordingID: id, Progress: run.Progress(), State: "running"}
	result, runErr := run.Result()
	switch {
	case result == nil && runErr == nil:
		return &out, nil
	case runErr != nil:
		out.State = "error"
		out.Msg = runErr.Error()
	case run.Canceled():
		out.State = "canceled"
	default:
		out.State = "done"
		out.Segments = result.Segments
		out.DeadTotal = result.DeadTotal
	}
	return &out, nil
}

// cancelAnalysis 取消正在运行的分析
func (a AnalysisAPI) cancelAnalysis(c *gin.Context, _ *struct{}) (any, error) {
	id, err := parseRecordingID(c)
	if err != nil {
		return nil, err
	}
	run, ok := a.runs.Load(id)
	if !ok {
		return nil, reason.ErrNotFound.Withf("no analysis for recording [%d]", id)
	}
	run.Cancel()
	return gin.H{"recording_id": id}, nil
}

// segmentsFor 已完成分析的时间轴片段，供剪辑使用
func (a AnalysisAPI) segmentsFor(id int64) ([]timeline.Segment, bool) {
	run, ok := a.runs.Load(id)
	if !ok {
		return nil, false
	}
	result, err := run.Result()
	if result == nil || err != nil || run.Canceled() {
		return nil, false
	}
	return result.Segments, true
}

// playlist 生成预览播放列表
// 以 Media Fragment 形式引用源文件的保留片段，预览剪辑后效果
func (a AnalysisAPI) playlist(c *gin.Context) {
	id, err := parseRecordingID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 1, "msg": err.Error()})
		return
	}
	segments, ok := a.segmentsFor(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": 1, "msg": "analysis not finished"})
		return
	}

	rec, err := a.captureCore.GetRecording(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": 1, "msg": err.Error()})
		return
	}

	mediaURI := "/static/recordings/" + path.Base(rec.Path)
	content, err := timeline.Playlist(segments, mediaURI)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 1, "msg": err.Error()})
		return
	}

	c.Header("Content-Type", "application/vnd.apple.mpegurl")
	c.Header("Cache-Control", "no-cache")
	c.String(http.StatusOK, content)
}
