package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/boostly-api/internal/models"
	appErrors "github.com/noah-isme/boostly-api/pkg/errors"
	"github.com/noah-isme/boostly-api/pkg/export"
	"github.com/noah-isme/boostly-api/pkg/storage"
)

type statementLedger interface {
	List(ctx context.Context, q sqlx.ExtContext, filter models.LedgerFilter) ([]models.LedgerEntry, error)
	SumDeltasAsOf(ctx context.Context, q sqlx.ExtContext, studentID string, asOf time.Time) (int, error)
}

type statementDirectory interface {
	Find(ctx context.Context, q sqlx.ExtContext, id string) (*models.Student, error)
}

// Statement output formats.
const (
	StatementFormatCSV = "csv"
	StatementFormatPDF = "pdf"
)

// Statement is one student's rendered monthly ledger statement.
type Statement struct {
	StudentID      string    `json:"student_id"`
	MonthBucket    time.Time `json:"month_bucket"`
	OpeningBalance int       `json:"opening_balance"`
	ClosingBalance int       `json:"closing_balance"`
	EntryCount     int       `json:"entry_count"`
	Format         string    `json:"format"`
	Filename       string    `json:"filename"`
	Content        []byte    `json:"-"`
}

// StatementService renders a student's month of ledger activity as CSV or
// PDF, bracketed by opening and closing balances.
type StatementService struct {
	ledger   statementLedger
	students statementDirectory
	store    *storage.LocalStorage
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
}

// NewStatementService constructs the service. store may be nil when rendered
// statements are only returned, never persisted.
func NewStatementService(ledger statementLedger, students statementDirectory, store *storage.LocalStorage, logger *zap.Logger) *StatementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatementService{
		ledger:   ledger,
		students: students,
		store:    store,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
	}
}

var statementHeaders = []string{"Sequence", "Date", "Event", "Credits", "Recognition", "Redemption"}

// Generate renders the statement for (student, month) in the given format.
func (s *StatementService) Generate(ctx context.Context, studentID string, bucket time.Time, format string) (*Statement, error) {
	if format != StatementFormatCSV && format != StatementFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported statement format %q", format))
	}
	bucket = models.MonthBucket(bucket)

	student, err := s.students.Find(ctx, nil, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("student %s not found", studentID))
	}

	opening, err := s.ledger.SumDeltasAsOf(ctx, nil, studentID, bucket.Add(-time.Nanosecond))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute opening balance")
	}

	entries, err := s.ledger.List(ctx, nil, models.LedgerFilter{
		StudentID: studentID,
		MonthFrom: &bucket,
		MonthTo:   &bucket,
		Limit:     500,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list statement entries")
	}

	closing := opening
	data := export.Dataset{Headers: statementHeaders}
	for _, entry := range entries {
		if entry.EventType.CountsTowardBalance() {
			closing += entry.CreditsDelta
		}
		row := map[string]string{
			"Sequence": strconv.FormatInt(entry.SequenceID, 10),
			"Date":     entry.CreatedAt.UTC().Format("2006-01-02"),
			"Event":    string(entry.EventType),
			"Credits":  strconv.Itoa(entry.CreditsDelta),
		}
		if entry.RecognitionID != nil {
			row["Recognition"] = *entry.RecognitionID
		}
		if entry.RedemptionID != nil {
			row["Redemption"] = *entry.RedemptionID
		}
		data.Rows = append(data.Rows, row)
	}

	month := bucket.Format("2006-01")
	var content []byte
	switch format {
	case StatementFormatCSV:
		content, err = s.csv.Render(data)
	case StatementFormatPDF:
		content, err = s.pdf.Render(data, "Credit Statement",
			fmt.Sprintf("%s (%s)", student.DisplayName, student.ID),
			fmt.Sprintf("Month: %s", month),
			fmt.Sprintf("Opening balance: %d   Closing balance: %d", opening, closing),
		)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render statement")
	}

	return &Statement{
		StudentID:      studentID,
		MonthBucket:    bucket,
		OpeningBalance: opening,
		ClosingBalance: closing,
		EntryCount:     len(entries),
		Format:         format,
		Filename:       fmt.Sprintf("statement_%s_%s.%s", studentID, month, format),
		Content:        content,
	}, nil
}

// Export generates the statement and persists it, returning the stored name.
func (s *StatementService) Export(ctx context.Context, studentID string, bucket time.Time, format string) (string, error) {
	if s.store == nil {
		return "", appErrors.Clone(appErrors.ErrInternal, "statement storage is not configured")
	}

	statement, err := s.Generate(ctx, studentID, bucket, format)
	if err != nil {
		return "", err
	}

	name, err := s.store.Save(statement.Filename, statement.Content)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write statement")
	}

	s.logger.Info("statement exported",
		zap.String("student_id", studentID),
		zap.String("path", s.store.Path(name)),
		zap.Int("entries", statement.EntryCount),
	)
	return name, nil
}
