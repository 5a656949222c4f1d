package bkt

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relay-tools/bkt/pkg/util"
)

// Debug is bound to the --debug persistent flag.
var Debug bool

func initLog(cmd *cobra.Command, args []string) {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			_, filename := path.Split(f.File)
			return "", fmt.Sprintf("%s:%d", filename, f.Line)
		},
	})

	if Debug {
		log.SetLevel(log.DebugLevel)
		log.SetReportCaller(true)
		return
	}

	logDir := util.DefaultWorkDir()
	if err := util.PrepareDir(logDir); err == nil {
		if f, err := os.OpenFile(filepath.Join(logDir, "bkt.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			log.SetOutput(f)
		}
	}
}
