package capture

import (
	"github.com/ixugo/goddd/pkg/web"
)

type FindRecordingInput struct {
	web.PagerFilter
	web.DateFilter
}

type EditRecordingInput struct {
	Name string `json:"name"` // 展示名称
}
