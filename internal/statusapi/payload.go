package statusapi

import (
	"time"

	"hotlib"
	"hotlib/internal/event"
	"hotlib/internal/reload"
)

type engineResponse struct {
	ID       string            `json:"id"`
	Error    string            `json:"error,omitempty"`
	Packages []packageResponse `json:"packages"`
}

type packageResponse struct {
	Session     string               `json:"session"`
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Root        string               `json:"root"`
	Current     uint64               `json:"current,omitempty"`
	Generations []generationResponse `json:"generations"`
	Build       buildResponse        `json:"build"`
	Error       string               `json:"error,omitempty"`
	Closed      bool                 `json:"closed"`
}

type generationResponse struct {
	Number   uint64    `json:"number"`
	Epoch    uint64    `json:"epoch"`
	State    string    `json:"state"`
	Refs     int64     `json:"refs"`
	Artifact string    `json:"artifact"`
	LoadedAt time.Time `json:"loaded_at"`
}

type buildResponse struct {
	Latest       uint64           `json:"latest"`
	Running      bool             `json:"running"`
	RunningEpoch uint64           `json:"running_epoch,omitempty"`
	Pending      bool             `json:"pending"`
	Last         *attemptResponse `json:"last,omitempty"`
}

type attemptResponse struct {
	Epoch       uint64    `json:"epoch"`
	Status      string    `json:"status"`
	Artifact    string    `json:"artifact,omitempty"`
	Error       string    `json:"error,omitempty"`
	Diagnostics string    `json:"diagnostics,omitempty"`
	Generation  uint64    `json:"generation,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	DurationMS  int64     `json:"duration_ms,omitempty"`
}

type eventResponse struct {
	Type       string           `json:"type"`
	Timestamp  time.Time        `json:"timestamp"`
	Package    string           `json:"package,omitempty"`
	Root       string           `json:"root,omitempty"`
	Generation uint64           `json:"generation,omitempty"`
	Previous   uint64           `json:"previous,omitempty"`
	Epoch      uint64           `json:"epoch,omitempty"`
	State      string           `json:"state,omitempty"`
	Error      string           `json:"error,omitempty"`
	Fatal      bool             `json:"fatal,omitempty"`
	Build      *attemptResponse `json:"build,omitempty"`
}

type rebuildResponse struct {
	Session string `json:"session"`
	Epoch   uint64 `json:"epoch"`
}

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func packagePayload(status hotlib.Status) packageResponse {
	response := packageResponse{
		Session:     status.Session,
		ID:          status.Package.ID,
		Name:        status.Package.Name,
		Root:        status.Package.Root,
		Current:     status.Current,
		Generations: make([]generationResponse, 0, len(status.Generations)),
		Build: buildResponse{
			Latest:       uint64(status.Build.Latest),
			Running:      status.Build.Running,
			RunningEpoch: uint64(status.Build.RunningEpoch),
			Pending:      status.Build.Pending,
		},
		Error:  errorText(status.Err),
		Closed: status.Closed,
	}
	for _, info := range status.Generations {
		response.Generations = append(response.Generations, generationResponse{
			Number:   info.Number,
			Epoch:    uint64(info.Epoch),
			State:    string(info.State),
			Refs:     info.Refs,
			Artifact: info.Artifact,
			LoadedAt: info.LoadedAt,
		})
	}
	if status.Build.Last.Epoch != 0 {
		last := attemptPayload(status.Build.Last)
		response.Build.Last = &last
	}
	return response
}

func attemptPayload(attempt reload.BuildAttempt) attemptResponse {
	return attemptResponse{
		Epoch:       uint64(attempt.Epoch),
		Status:      string(attempt.Status),
		Artifact:    attempt.Artifact,
		Error:       errorText(attempt.Err),
		Diagnostics: attempt.Diagnostics,
		Generation:  attempt.Generation,
		StartedAt:   attempt.StartedAt,
		FinishedAt:  attempt.FinishedAt,
		DurationMS:  attempt.Duration().Milliseconds(),
	}
}

func eventPayload(value event.Event) (any, bool) {
	if value == nil {
		return nil, false
	}
	response := eventResponse{
		Type:      value.Type(),
		Timestamp: value.Timestamp(),
	}
	switch typed := value.(type) {
	case reload.GenerationEvent:
		response.Package = typed.Package.String()
		response.Root = typed.Package.Root
		response.Generation = typed.Generation
		response.Previous = typed.Previous
		response.Epoch = uint64(typed.Epoch)
	case reload.LifecycleEvent:
		response.Package = typed.Package.String()
		response.Root = typed.Package.Root
		response.Generation = typed.Generation
		response.State = string(typed.State)
	case reload.BuildAttempt:
		response.Package = typed.Package.String()
		response.Root = typed.Package.Root
		response.Epoch = uint64(typed.Epoch)
		build := attemptPayload(typed)
		response.Build = &build
	case reload.WatchEvent:
		response.Package = typed.Package.String()
		response.Root = typed.Package.Root
		response.Error = errorText(typed.Err)
		response.Fatal = typed.Fatal
	}
	return response, true
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
