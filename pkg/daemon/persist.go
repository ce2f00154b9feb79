package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tvalice/tvroll/pkg/calibration"
	"github.com/tvalice/tvroll/pkg/types"
)

const persistTimeout = 10 * time.Second

// fingerprint identifies the content of a document, ignoring its timestamp.
func fingerprint(doc calibration.Document) string {
	b, _ := json.Marshal(struct {
		Pages []calibration.PageRecord
		Steps int64
	}{doc.Pages, doc.CurrentSteps})
	return string(b)
}

// persist writes doc to the calibration file and appends it to the history.
func (s *server) persist(ctx context.Context, reason string, doc calibration.Document) (types.SaveResult, error) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	res := types.SaveResult{TotalPages: doc.TotalPages}
	if path := s.conf.CalibrationPath(); path != "" {
		if err := calibration.WriteFile(path, doc); err != nil {
			return res, err
		}
		res.File = path
	}
	if s.store != nil {
		rec, err := s.store.Append(ctx, reason, doc)
		if err != nil {
			return res, err
		}
		res.HistoryID = rec.ID
	}
	s.lastSaved = fingerprint(doc)

	logrus.WithFields(logrus.Fields{
		"reason":     reason,
		"totalPages": res.TotalPages,
		"file":       res.File,
		"historyId":  res.HistoryID,
	}).Info("calibration saved")
	return res, nil
}

// autosave persists the local map when it changed since the last save. The
// board's own memory is left alone.
func (s *server) autosave() error {
	doc := s.sess.Export()

	s.persistMu.Lock()
	unchanged := fingerprint(doc) == s.lastSaved
	s.persistMu.Unlock()
	if unchanged || (doc.TotalPages == 0 && s.lastSaved == "") {
		logrus.Debug("calibration unchanged, skipping autosave")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	_, err := s.persist(ctx, "autosave", doc)
	return err
}

// autosavePreCheck brings the local map up to date before it is saved.
func (s *server) autosavePreCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	res, err := s.sess.Refresh(ctx)
	if err != nil {
		return err
	}
	if !res.Applied {
		return errors.New("board sent an incomplete status report")
	}
	return nil
}

// restoreFile imports the calibration file into the session.
func (s *server) restoreFile(path string) error {
	doc, err := calibration.ReadFile(path)
	if err != nil {
		return err
	}
	if err := s.sess.Import(doc); err != nil {
		return err
	}
	s.persistMu.Lock()
	s.lastSaved = fingerprint(doc)
	s.persistMu.Unlock()
	return nil
}
