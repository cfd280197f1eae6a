package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/recap/internal/conf"
	"github.com/gowvp/recap/internal/core/capture"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

// CaptureAPI 为 http 提供业务方法
type CaptureAPI struct {
	captureCore capture.Core
	conf        *conf.Bootstrap
}

func NewCaptureAPI(core capture.Core, conf *conf.Bootstrap) CaptureAPI {
	return CaptureAPI{captureCore: core, conf: conf}
}

func RegisterCapture(g gin.IRouter, api CaptureAPI, handler ...gin.HandlerFunc) {
	{
		group := g.Group("/recordings", handler...)
		group.GET("", web.WrapH(api.findRecordings))
		group.GET("/:id", web.WrapH(api.getRecording))
		group.PUT("/:id", web.WrapH(api.editRecording))
		group.DELETE("/:id", web.WrapH(api.delRecording))
		group.GET("/:id/download", api.downloadRecording)
	}

	{
		// 会话控制只暴露查询与停止，开始录制由宿主进程内调用，
		// 场景与音频源无法从 HTTP 请求构造
		group := g.Group("/session", handler...)
		group.GET("", web.WrapH(api.getSession))
		group.POST("/stop", web.WrapH(api.stopSession))
	}

	// 静态文件服务，用于播放录像文件
	// Gin Static 支持 HTTP Range 请求，实现边下载边播放
	if api.conf != nil && api.conf.Server.Capture.StorageDir != "" {
		g.Static("/static/recordings", api.conf.Server.Capture.StorageDir)
	}
}

// findRecordings 分页查询录像列表
func (a CaptureAPI) findRecordings(c *gin.Context, in *capture.FindRecordingInput) (any, error) {
	items, total, err := a.captureCore.FindRecordings(c.Request.Context(), in)
	return gin.H{"items": items, "total": total}, err
}

func (a CaptureAPI) getRecording(c *gin.Context, _ *struct{}) (*capture.Recording, error) {
	recordingID, err := parseRecordingID(c)
	if err != nil {
		return nil, err
	}
	return a.captureCore.GetRecording(c.Request.Context(), recordingID)
}

func (a CaptureAPI) editRecording(c *gin.Context, in *capture.EditRecordingInput) (*capture.Recording, error) {
	recordingID, err := parseRecordingID(c)
	if err != nil {
		return nil, err
	}
	return a.captureCore.EditRecording(c.Request.Context(), in, recordingID)
}

func (a CaptureAPI) delRecording(c *gin.Context, _ *struct{}) (*capture.Recording, error) {
	recordingID, err := parseRecordingID(c)
	if err != nil {
		return nil, err
	}
	return a.captureCore.DelRecording(c.Request.Context(), recordingID)
}

func (a CaptureAPI) getSession(_ *gin.Context, _ *struct{}) (capture.SessionStatus, error) {
	return a.captureCore.SessionStatus(), nil
}

func (a CaptureAPI) stopSession(c *gin.Context, _ *struct{}) (*capture.Recording, error) {
	return a.captureCore.StopSession(c.Request.Context())
}

// downloadRecording 下载录像文件
func (a CaptureAPI) downloadRecording(c *gin.Context) {
	recordingID, err := parseRecordingID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 1, "msg": err.Error()})
		return
	}

	rec, err := a.captureCore.GetRecording(c.Request.Context(), recordingID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": 1, "msg": err.Error()})
		return
	}

	if _, err := os.Stat(rec.Path); os.IsNotExist(err) {
		c.JSON(http.StatusNotFound, gin.H{"code": 1, "msg": "recording file not found"})
		return
	}

	fileName := filepath.Base(rec.Path)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", fileName))
	c.File(rec.Path)
}

// parseRecordingID 路径参数里的录像 ID
func parseRecordingID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, reason.ErrBadRequest.Withf("invalid recording id [%s]", c.Param("id"))
	}
	return id, nil
}
