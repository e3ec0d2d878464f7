package mq

import (
	"encoding/json"
	"fmt"
)

// PrefetchJob asks the gateway to warm the cache for a range
type PrefetchJob struct {
	JobID     string `json:"job_id"`
	AccountID string `json:"account_id"`
	PointID   string `json:"point_id"`
	Kind      string `json:"kind"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

// DecodePrefetchJob parses a job body and checks that required fields are set
func DecodePrefetchJob(body []byte) (PrefetchJob, error) {
	var job PrefetchJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("invalid prefetch job: %w", err)
	}
	switch {
	case job.AccountID == "":
		return job, fmt.Errorf("invalid prefetch job %q: account_id is required", job.JobID)
	case job.PointID == "":
		return job, fmt.Errorf("invalid prefetch job %q: point_id is required", job.JobID)
	case job.Kind == "":
		return job, fmt.Errorf("invalid prefetch job %q: kind is required", job.JobID)
	case job.Start == "" || job.End == "":
		return job, fmt.Errorf("invalid prefetch job %q: start and end are required", job.JobID)
	}
	return job, nil
}
