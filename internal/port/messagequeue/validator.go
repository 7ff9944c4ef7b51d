package messagequeue

import (
	"encoding/json"
	"fmt"
)

// Validate checks that data is JSON matching the schema of subject and that
// the identifying fields are present. Unknown subjects only need valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectTaskQueued:
		var p TaskQueuedPayload
		if err := decode(subject, data, &p); err != nil {
			return err
		}
		return require(subject, "task_id", p.TaskID, "task_type", p.TaskType)
	case SubjectTaskFinished:
		var p TaskFinishedPayload
		if err := decode(subject, data, &p); err != nil {
			return err
		}
		return require(subject, "task_id", p.TaskID, "status", p.Status)
	case SubjectKarma:
		var p KarmaRecordedPayload
		if err := decode(subject, data, &p); err != nil {
			return err
		}
		return require(subject, "agent_id", p.AgentID)
	case SubjectAgentStatus:
		var p AgentStatusPayload
		if err := decode(subject, data, &p); err != nil {
			return err
		}
		return require(subject, "agent_id", p.AgentID, "status", p.Status)
	}
	return nil
}

func decode(subject string, data []byte, target any) error {
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}

// require takes name/value pairs.
func require(subject string, kv ...string) error {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			return fmt.Errorf("schema validation failed for %s: %s is required", subject, kv[i])
		}
	}
	return nil
}
