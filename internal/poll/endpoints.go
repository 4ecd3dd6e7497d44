package poll

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	inferenceImagePath  = "/api/v0/inference/image"
	inferenceResultPath = "/api/v0/inference/result"
	streamingImagePath  = "/api/v0/streaming/image/"
	pipelineStartPath   = "/api/v0/pipeline/start"
	pipelineStopPath    = "/api/v0/pipeline/stop"
	pipelineListPath    = "/api/v0/pipeline/list"
	pipelineConfigPath  = "/api/v0/pipeline/config"
	recordingPath       = "/api/v0/recording"
	whoamiPath          = "/api/v0/stats/whoami"
	sysinfoPath         = "/api/v0/stats/sysinfo"
)

// BaseURL joins host and port into an http base URL. A host that already
// carries a scheme is used as is.
func BaseURL(host string, port int) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(port)))
}

func InferenceImageURL(base string) string {
	return strings.TrimRight(base, "/") + inferenceImagePath
}

func InferenceResultURL(base string) string {
	return strings.TrimRight(base, "/") + inferenceResultPath
}

func StreamingImageURL(base string, channelID int) string {
	return strings.TrimRight(base, "/") + streamingImagePath + strconv.Itoa(channelID)
}
