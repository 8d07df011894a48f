package queue

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/das-developers/das2py-server-sub000/dastime"
	"github.com/das-developers/das2py-server-sub000/errors"
)

// Category tags a job with the handler that runs it.
type Category string

const (
	CategoryCache       Category = "TASK_CACHE"
	CategoryHAPIInfo    Category = "HAPI_INFO_CACHE"
	CategoryListRefresh Category = "LIST_REFRESH"
	CategoryUsage       Category = "USAGE"
)

// argCounts is the number of category-specific fields of each category.
var argCounts = map[Category]int{
	CategoryCache:       5,
	CategoryHAPIInfo:    1,
	CategoryListRefresh: 0,
	CategoryUsage:       1,
}

// Job statuses.
const (
	StatusRunning        = "running"
	StatusComplete       = "complete"
	StatusFailed         = "failed"
	StatusInterrupted    = "interrupted"
	StatusNotImplemented = "not implemented"
)

const (
	commonFields  = 7
	runningFields = 3
	endFields     = 2
)

// Requester identifies who asked for a job.
type Requester struct {
	Host       string
	PID        int
	Script     string
	RemoteAddr string
	User       string
}

// Job is a decoded work-queue record.
type Job struct {
	Submitted time.Time
	Requester Requester
	Category  Category
	Args      []string

	Started  time.Time
	Status   string
	Progress float64

	Ended    time.Time
	ExitCode int
}

// NewJob creates a queued job.
func NewJob(cat Category, req Requester, args ...string) (*Job, error) {
	n, ok := argCounts[cat]
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("unknown category %q", cat), "Job", "NewJob", "validate category")
	}
	if len(args) != n {
		return nil, errors.WrapInvalid(fmt.Errorf("%s takes %d arguments, got %d", cat, n, len(args)), "Job", "NewJob", "validate arguments")
	}
	return &Job{
		Submitted: time.Now().UTC().Truncate(time.Millisecond),
		Requester: req,
		Category:  cat,
		Args:      append([]string(nil), args...),
	}, nil
}

// Running reports whether a worker has begun the job.
func (j *Job) Running() bool {
	return !j.Started.IsZero() && j.Ended.IsZero()
}

// Done reports whether the job reached a terminal state.
func (j *Job) Done() bool {
	return !j.Ended.IsZero()
}

// SameTarget reports whether two jobs would do the same work.
func (j *Job) SameTarget(o *Job) bool {
	if j.Category != o.Category || len(j.Args) != len(o.Args) {
		return false
	}
	for i := range j.Args {
		if j.Args[i] != o.Args[i] {
			return false
		}
	}
	return true
}

// Begin marks the job as started.
func (j *Job) Begin(now time.Time) {
	j.Started = now.UTC()
	j.Status = StatusRunning
	j.Progress = 0
}

// SetProgress records a completion fraction in [0,1] and a status text.
func (j *Job) SetProgress(fraction float64, status string) {
	switch {
	case fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}
	j.Progress = fraction
	if status != "" {
		j.Status = status
	}
}

// End marks the job as finished with an exit code and status.
func (j *Job) End(now time.Time, exitCode int, status string) {
	if j.Started.IsZero() {
		j.Started = now.UTC()
	}
	j.Ended = now.UTC()
	j.ExitCode = exitCode
	if status != "" {
		j.Status = status
	}
	if exitCode == 0 {
		j.Progress = 1
	}
}

var fieldEscaper = strings.NewReplacer("%", "%25", "|", "%7C")
var fieldUnescaper = strings.NewReplacer("%7C", "|", "%7c", "|", "%25", "%")

// Encode renders the job as a record.
func (j *Job) Encode() string {
	fields := []string{
		dastime.ISO(j.Submitted),
		j.Requester.Host,
		strconv.Itoa(j.Requester.PID),
		j.Requester.Script,
		j.Requester.RemoteAddr,
		j.Requester.User,
		string(j.Category),
	}
	fields = append(fields, j.Args...)
	if !j.Started.IsZero() {
		fields = append(fields,
			dastime.ISO(j.Started),
			j.Status,
			strconv.FormatFloat(j.Progress, 'f', 3, 64),
		)
	}
	if !j.Ended.IsZero() {
		fields = append(fields, dastime.ISO(j.Ended), strconv.Itoa(j.ExitCode))
	}
	for i, f := range fields {
		fields[i] = fieldEscaper.Replace(f)
	}
	return strings.Join(fields, "|")
}

func (j *Job) String() string {
	return fmt.Sprintf("%s(%s)", j.Category, strings.Join(j.Args, ","))
}

// Decode parses a record.
func Decode(record string) (*Job, error) {
	fields := strings.Split(record, "|")
	for i, f := range fields {
		fields[i] = fieldUnescaper.Replace(f)
	}
	if len(fields) < commonFields {
		return nil, invalidRecord("%d fields, need at least %d", len(fields), commonFields)
	}

	var j Job
	var err error
	if j.Submitted, err = dastime.Parse(fields[0]); err != nil {
		return nil, invalidRecord("submit time %q", fields[0])
	}
	pid, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, invalidRecord("pid %q", fields[2])
	}
	j.Requester = Requester{
		Host:       fields[1],
		PID:        pid,
		Script:     fields[3],
		RemoteAddr: fields[4],
		User:       fields[5],
	}
	j.Category = Category(fields[6])
	n, ok := argCounts[j.Category]
	if !ok {
		return nil, invalidRecord("unknown category %q", fields[6])
	}

	rest := fields[commonFields:]
	if len(rest) < n {
		return nil, invalidRecord("%s needs %d arguments, got %d", j.Category, n, len(rest))
	}
	j.Args = append([]string{}, rest[:n]...)
	rest = rest[n:]

	switch len(rest) {
	case 0:
		return &j, nil
	case runningFields, runningFields + endFields:
	default:
		return nil, invalidRecord("%d trailing fields", len(rest))
	}

	if j.Started, err = dastime.Parse(rest[0]); err != nil {
		return nil, invalidRecord("start time %q", rest[0])
	}
	j.Status = rest[1]
	if j.Progress, err = strconv.ParseFloat(rest[2], 64); err != nil {
		return nil, invalidRecord("progress %q", rest[2])
	}
	if len(rest) == runningFields {
		return &j, nil
	}
	if j.Ended, err = dastime.Parse(rest[3]); err != nil {
		return nil, invalidRecord("end time %q", rest[3])
	}
	if j.ExitCode, err = strconv.Atoi(rest[4]); err != nil {
		return nil, invalidRecord("exit code %q", rest[4])
	}
	return &j, nil
}

func invalidRecord(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf(format, args...), "Job", "Decode", "parse record")
}

// CacheArgs are the arguments of a TASK_CACHE job.
type CacheArgs struct {
	LocalID string
	Begin   time.Time
	End     time.Time
	Level   string
	Options string
}

// NewCacheJob creates a queued TASK_CACHE job.
func NewCacheJob(req Requester, a CacheArgs) (*Job, error) {
	return NewJob(CategoryCache, req, a.LocalID, dastime.ISO(a.Begin), dastime.ISO(a.End), a.Level, a.Options)
}

// Cache returns the arguments of a TASK_CACHE job.
func (j *Job) Cache() (CacheArgs, error) {
	if j.Category != CategoryCache || len(j.Args) != argCounts[CategoryCache] {
		return CacheArgs{}, errors.WrapInvalid(fmt.Errorf("%s is not a cache job", j.Category), "Job", "Cache", "read arguments")
	}
	begin, err := dastime.Parse(j.Args[1])
	if err != nil {
		return CacheArgs{}, errors.WrapInvalid(err, "Job", "Cache", "parse begin")
	}
	end, err := dastime.Parse(j.Args[2])
	if err != nil {
		return CacheArgs{}, errors.WrapInvalid(err, "Job", "Cache", "parse end")
	}
	return CacheArgs{LocalID: j.Args[0], Begin: begin, End: end, Level: j.Args[3], Options: j.Args[4]}, nil
}
