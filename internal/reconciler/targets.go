package reconciler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

// targetGroup matches the Prometheus file-SD document format.
type targetGroup struct {
	Targets []string          `json:"targets"`
	Labels  map[string]string `json:"labels"`
}

// exportTargets writes the worker scrape targets as a file-SD document.
// The write is atomic (temp file plus rename) so Prometheus never reads a
// partial file.
func (r *Reconciler) exportTargets(streams []models.Stream) {
	if r.cfg.SDFilePath == "" {
		return
	}

	groups := []targetGroup{}
	for _, st := range streams {
		if !st.IsActive || st.WorkerHandle == nil {
			continue
		}
		groups = append(groups, targetGroup{
			Targets: []string{fmt.Sprintf("%s:%d", *st.WorkerHandle, r.cfg.MetricsPort)},
			Labels: map[string]string{
				"stream_id":   st.ID,
				"stream_name": st.Name,
			},
		})
	}

	data, err := json.MarshalIndent(groups, "", "  ")
	if err != nil {
		r.logger.WithField("error", err).Error("Encoding scrape targets failed")
		return
	}
	data = append(data, '\n')

	dir := filepath.Dir(r.cfg.SDFilePath)
	tmp, err := os.CreateTemp(dir, ".targets-*.json")
	if err != nil {
		r.logger.WithField("error", err).Error("Writing scrape targets failed")
		return
	}
	if _, err := tmp.Write(data); err == nil {
		err = tmp.Close()
	} else {
		tmp.Close()
	}
	if err != nil {
		os.Remove(tmp.Name())
		r.logger.WithField("error", err).Error("Writing scrape targets failed")
		return
	}
	if err := os.Rename(tmp.Name(), r.cfg.SDFilePath); err != nil {
		os.Remove(tmp.Name())
		r.logger.WithField("error", err).Error("Publishing scrape targets failed")
	}
}
