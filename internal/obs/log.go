package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// serviceName tags every log line so aggregated output stays attributable.
const serviceName = "mediboard-api"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits a structured JSON log line. The service name, a timestamp,
// and a level are stamped on every entry; callers may override ts and level
// but not service.
func LogRequest(entry map[string]any) {
	stamped := make(map[string]any, len(entry)+3)
	for k, v := range entry {
		stamped[k] = v
	}
	if _, ok := stamped["ts"]; !ok {
		stamped["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if _, ok := stamped["level"]; !ok {
		stamped["level"] = "info"
	}
	stamped["service"] = serviceName

	data, err := json.Marshal(stamped)
	if err != nil {
		Logger().Println(`{"service":"` + serviceName + `","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
