package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/gowvp/recap/internal/conf"
	"github.com/gowvp/recap/internal/core/capture"
	"github.com/gowvp/recap/internal/core/capture/store/capturedb"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/web"
	"gorm.io/gorm"
)

var ProviderSet = wire.NewSet(
	wire.Struct(new(Usecase), "*"),
	NewHTTPHandler,
	NewCaptureStore, NewCaptureCore, NewCaptureAPI,
	NewAnalysisCore, NewAnalysisAPI,
	NewTrimCore, NewTrimAPI,
)

type Usecase struct {
	Conf        *conf.Bootstrap
	DB          *gorm.DB
	CaptureAPI  CaptureAPI
	AnalysisAPI AnalysisAPI
	TrimAPI     TrimAPI
}

// NewHTTPHandler 生成Gin框架路由内容
func NewHTTPHandler(uc *Usecase) http.Handler {
	cfg := uc.Conf.Server
	if cfg.HTTP.JwtSecret == "" {
		uc.Conf.Server.HTTP.JwtSecret = orm.GenerateRandomString(32)
	}
	if !uc.Conf.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	// 如果启用了 Pprof，设置 Pprof 监控
	if cfg.HTTP.PProf.Enabled {
		web.SetupPProf(g, &cfg.HTTP.PProf.AccessIps)
	}

	setupRouter(g, uc)
	return g
}

// NewCaptureStore 创建录像存储层
func NewCaptureStore(db *gorm.DB) capture.Storer {
	return capturedb.NewDB(db).AutoMigrate(orm.GetEnabledAutoMigrate())
}

// NewCaptureCore 创建录制核心服务
func NewCaptureCore(store capture.Storer, cfg *conf.Bootstrap) capture.Core {
	core := capture.NewCore(cfg, store)

	// 启动清理协程
	go core.StartCleanupWorker()

	return core
}
