package importer

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/Guizzs26/go-inventory-agent/internal/models"
)

// Enqueuer is where parsed rows end up: the local pending queue inside
// the agent, or an admin-API-backed client from the CLI.
type Enqueuer interface {
	Enqueue(m models.PendingMutation) error
}

// Importer bulk-loads scan rows from handheld terminal exports into the
// pending queue. The terminals write Windows-1252 CSV, so the stream is
// transcoded before parsing.
//
// Expected columns: type,barcode,location,quantity. The header row is
// required and matched case-insensitively.
type Importer struct {
	queue  Enqueuer
	logger *slog.Logger
}

func NewImporter(queue Enqueuer, logger *slog.Logger) *Importer {
	return &Importer{queue: queue, logger: logger}
}

// Summary reports what one import run did. Rows that fail validation are
// skipped and counted, never silently dropped.
type Summary struct {
	Enqueued int      `json:"enqueued"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// Import reads the whole CSV stream and enqueues one scan mutation per
// valid row. A malformed row skips that row only; a broken stream aborts.
func (im *Importer) Import(r io.Reader) (Summary, error) {
	decoded := transform.NewReader(r, charmap.Windows1252.NewDecoder())
	reader := csv.NewReader(decoded)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read csv header: %w", err)
	}
	cols, err := mapHeader(header)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return sum, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}

		scan, err := parseRow(record, cols)
		if err != nil {
			sum.Skipped++
			sum.Errors = append(sum.Errors, fmt.Sprintf("line %d: %v", line, err))
			im.logger.Warn("Skipping invalid import row", "line", line, "error", err)
			continue
		}

		payload, err := json.Marshal(scan)
		if err != nil {
			return sum, fmt.Errorf("failed to encode scan from line %d: %w", line, err)
		}
		if err := im.queue.Enqueue(models.NewPendingMutation(models.KindScanEvent, payload)); err != nil {
			return sum, fmt.Errorf("failed to enqueue scan from line %d: %w", line, err)
		}
		sum.Enqueued++
	}

	im.logger.Info("📥 Import finished", "enqueued", sum.Enqueued, "skipped", sum.Skipped)
	return sum, nil
}

type columns struct {
	typ, barcode, location, quantity int
}

func mapHeader(header []string) (columns, error) {
	cols := columns{typ: -1, barcode: -1, location: -1, quantity: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "type":
			cols.typ = i
		case "barcode":
			cols.barcode = i
		case "location":
			cols.location = i
		case "quantity":
			cols.quantity = i
		}
	}
	if cols.typ < 0 || cols.barcode < 0 || cols.location < 0 || cols.quantity < 0 {
		return cols, fmt.Errorf("csv header must contain type, barcode, location and quantity, got %v", header)
	}
	return cols, nil
}

func parseRow(record []string, cols columns) (models.ScanEvent, error) {
	need := max(cols.typ, max(cols.barcode, max(cols.location, cols.quantity)))
	if len(record) <= need {
		return models.ScanEvent{}, fmt.Errorf("expected at least %d fields, got %d", need+1, len(record))
	}

	typ := models.MovementType(strings.ToUpper(strings.TrimSpace(record[cols.typ])))
	switch typ {
	case models.MovementIn, models.MovementOut, models.MovementAdjust:
	default:
		return models.ScanEvent{}, fmt.Errorf("unknown movement type %q", record[cols.typ])
	}

	barcode := strings.TrimSpace(record[cols.barcode])
	if barcode == "" {
		return models.ScanEvent{}, fmt.Errorf("barcode is empty")
	}

	quantity, err := strconv.Atoi(strings.TrimSpace(record[cols.quantity]))
	if err != nil {
		return models.ScanEvent{}, fmt.Errorf("invalid quantity %q", record[cols.quantity])
	}
	if typ != models.MovementAdjust && quantity <= 0 {
		return models.ScanEvent{}, fmt.Errorf("quantity must be positive for %s, got %d", typ, quantity)
	}
	if quantity == 0 {
		return models.ScanEvent{}, fmt.Errorf("adjustment delta must not be zero")
	}

	location := strings.TrimSpace(record[cols.location])
	return models.NewScanEvent(barcode, typ, quantity, location), nil
}
