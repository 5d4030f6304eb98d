package commands

import (
	"encoding/json"
	"os"

	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/pulse/posting"
)

// jobFile is the on-disk description of one account and its listing
//
//	{
//	  "credential": {"identifier": "me@example.com", "secret": "...", "strategy": "api"},
//	  "listing": {"title": "...", "description": "...", "category": "...", ...}
//	}
type jobFile struct {
	Interval   string             `json:"interval,omitempty"`
	Credential posting.Credential `json:"credential"`
	Listing    posting.Listing    `json:"listing"`
}

// readJobFile loads and validates a job file
func readJobFile(path string) (*jobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var jf jobFile
	if err := json.Unmarshal(data, &jf); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parse %s", path), errors.ErrInvalidRequest)
	}
	if err := jf.Credential.Normalize(); err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	if err := jf.Listing.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return &jf, nil
}
