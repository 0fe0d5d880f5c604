package utilities

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var logMu sync.Mutex

// CreateLog appends one timestamped line to dir/<prefix>_<yyyymmdd>.log,
// creating dir when missing.
func CreateLog(dir, prefix, message string) error {
	return createLogAt(time.Now(), dir, prefix, message)
}

func createLogAt(now time.Time, dir, prefix, message string) error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	filename := filepath.Join(dir, prefix+"_"+now.Format("20060102")+".log")
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(now.Format("15:04:05") + " - " + message + "\n"); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// Journal writes raw frames per device. A zero Dir disables it.
type Journal struct {
	Dir string
}

func (j *Journal) Enabled() bool { return j != nil && j.Dir != "" }

func (j *Journal) Record(deviceID, direction, hexFrame string) error {
	if !j.Enabled() {
		return nil
	}
	if deviceID == "" {
		deviceID = "UNREGISTERED"
	}
	return CreateLog(j.Dir, "ALLTRACKINGS", deviceID+" "+direction+" "+hexFrame)
}
