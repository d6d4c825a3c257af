// Package parser turns whitespace separated scheduler accounting lines into
// job records.
package parser

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/corehours/internal/ingest/domain"
	jobdomain "github.com/smallbiznis/corehours/internal/job/domain"
	"gorm.io/datatypes"
)

// Column names understood by the parser. Any other configured column is
// carried into Job.Extra.
const (
	ColJobID        = "JobID"
	ColJobName      = "JobName"
	ColUserName     = "UserName"
	ColUserGroup    = "UserGroup"
	ColQueue        = "Queue"
	ColJobStatus    = "JobStatus"
	ColNodes        = "Nodes"
	ColCores        = "Cores"
	ColMemory       = "Memory"
	ColRunTime      = "RunTimeSeconds"
	ColElapseLimit  = "ElapseLimiteSecond"
	queuePrefix     = "QueDate"
	startPrefix     = "StartDate"
	maxLineCapacity = 1 << 20
)

var dateParts = [6]string{"Year", "Month", "Day", "Hour", "Minute", "Second"}

// Drop reasons reported in Result.Dropped.
const (
	DropTokenCount = "token_count"
	DropTimestamp  = "timestamp"
	DropMissingID  = "missing_job_id"
)

var known = knownColumns()

func knownColumns() map[string]struct{} {
	cols := append([]string{ColJobName}, RequiredColumns()...)
	cols = append(cols, DateColumns()...)
	set := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		set[c] = struct{}{}
	}
	return set
}

// RequiredColumns lists the non-date columns every schema must name.
func RequiredColumns() []string {
	return []string{
		ColJobID, ColUserName, ColUserGroup, ColQueue, ColJobStatus,
		ColNodes, ColCores, ColMemory, ColRunTime, ColElapseLimit,
	}
}

// DateColumns lists the twelve columns needed to build queue and start times.
func DateColumns() []string {
	cols := make([]string, 0, 12)
	for _, prefix := range []string{queuePrefix, startPrefix} {
		for _, p := range dateParts {
			cols = append(cols, prefix+p)
		}
	}
	return cols
}

// Parser is safe for concurrent use once built.
type Parser struct {
	columns   []string
	index     map[string]int
	statusMap map[string]string
}

// New validates the column schema. Missing date columns are reported as
// domain.ErrMissingDateColumns, any other missing required column as
// domain.ErrMissingColumns.
func New(columns []string, statusMap map[string]string) (*Parser, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	if missing := absent(index, DateColumns()); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrMissingDateColumns, strings.Join(missing, ","))
	}
	if missing := absent(index, RequiredColumns()); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrMissingColumns, strings.Join(missing, ","))
	}
	return &Parser{
		columns:   append([]string(nil), columns...),
		index:     index,
		statusMap: statusMap,
	}, nil
}

func absent(index map[string]int, want []string) []string {
	var missing []string
	for _, c := range want {
		if _, ok := index[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// Result holds the records of one file and what was dropped on the way.
type Result struct {
	Jobs    []jobdomain.Job
	Lines   int
	Dropped map[string]int
}

func (r Result) DroppedTotal() int {
	total := 0
	for _, n := range r.Dropped {
		total += n
	}
	return total
}

// Parse reads r to EOF. Malformed lines are counted and skipped; only read
// errors are returned.
func (p *Parser) Parse(r io.Reader, sourceFile string) (Result, error) {
	res := Result{Dropped: map[string]int{}}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineCapacity)
	for scanner.Scan() {
		tokens := strings.Fields(scanner.Text())
		if len(tokens) == 0 {
			continue
		}
		res.Lines++

		job, reason := p.Line(tokens)
		if reason != "" {
			res.Dropped[reason]++
			continue
		}
		job.SourceFile = sourceFile
		res.Jobs = append(res.Jobs, job)
	}
	if err := scanner.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// Line normalizes one tokenized line. A non-empty reason means the line is dropped.
func (p *Parser) Line(tokens []string) (jobdomain.Job, string) {
	if len(tokens) != len(p.columns) {
		return jobdomain.Job{}, DropTokenCount
	}
	field := func(name string) string {
		if i, ok := p.index[name]; ok {
			return tokens[i]
		}
		return ""
	}

	queueTime, ok := p.timestamp(tokens, queuePrefix)
	if !ok {
		return jobdomain.Job{}, DropTimestamp
	}
	startTime, ok := p.timestamp(tokens, startPrefix)
	if !ok {
		return jobdomain.Job{}, DropTimestamp
	}

	jobID := field(ColJobID)
	if jobID == "" {
		return jobdomain.Job{}, DropMissingID
	}

	queue := field(ColQueue)
	job := jobdomain.Job{
		JobID:              jobID,
		JobName:            field(ColJobName),
		UserName:           field(ColUserName),
		UserGroup:          field(ColUserGroup),
		Queue:              queue,
		Status:             p.status(field(ColJobStatus)),
		Nodes:              Count(field(ColNodes)),
		Cores:              Count(field(ColCores)),
		Memory:             field(ColMemory),
		MemoryValue:        MemoryValue(field(ColMemory)),
		RunTimeSeconds:     Duration(field(ColRunTime)),
		ElapseLimitSeconds: Duration(field(ColElapseLimit)),
		QueueTime:          queueTime,
		StartTime:          startTime,
		ResourceType:       jobdomain.ClassifyQueue(queue),
	}

	for i, col := range p.columns {
		if _, ok := known[col]; ok {
			continue
		}
		if job.Extra == nil {
			job.Extra = datatypes.JSONMap{}
		}
		job.Extra[col] = tokens[i]
	}
	return job, ""
}

func (p *Parser) status(raw string) string {
	if label, ok := p.statusMap[raw]; ok {
		return label
	}
	return raw
}

func (p *Parser) timestamp(tokens []string, prefix string) (time.Time, bool) {
	var v [6]int
	for i, part := range dateParts {
		n, err := strconv.Atoi(tokens[p.index[prefix+part]])
		if err != nil {
			return time.Time{}, false
		}
		v[i] = n
	}
	return Timestamp(v[0], v[1], v[2], v[3], v[4], v[5])
}

// Timestamp builds a UTC time and rejects out-of-range fields such as month 13
// or February 30 instead of normalizing them.
func Timestamp(year, month, day, hour, minute, second int) (time.Time, bool) {
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day ||
		t.Hour() != hour || t.Minute() != minute || t.Second() != second {
		return time.Time{}, false
	}
	return t, true
}

// Duration coerces a seconds value such as "3600" or "(100)". Parentheses are
// stripped, fractions truncated, and unparseable or negative values become 0.
func Duration(raw string) int64 {
	cleaned := strings.NewReplacer("(", "", ")", "").Replace(strings.TrimSpace(raw))
	return nonNegative(cleaned)
}

// Count coerces a node or core count; unparseable or negative values become 0.
func Count(raw string) int64 {
	return nonNegative(strings.TrimSpace(raw))
}

// MemoryValue keeps only digits and dots of a memory token ("4096M" -> 4096).
func MemoryValue(raw string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, raw)
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}

func nonNegative(s string) int64 {
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0
		}
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 {
		return 0
	}
	return int64(f)
}
