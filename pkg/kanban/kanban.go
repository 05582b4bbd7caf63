// Package kanban is skybridge's local board: the source of truth for where
// every job's card sits, independent of whether (or how slowly) an
// external Kanban provider agrees. Grounded on picoclaw's
// integration/kanban.KanbanIntegration — same SQLite-as-source-of-truth
// design, same CRUD/transaction/history shape — generalized from a
// generic task board to the fixed boards/lists/cards/card_history schema
// and agent_type-driven list routing spec.md §4.7 describes.
package kanban

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/h4mn/skybridge/pkg/domain"
	"github.com/h4mn/skybridge/pkg/logger"
	"github.com/h4mn/skybridge/pkg/skyerr"
)

// AgentTypeList maps a job's agent_type to the list its card is filed
// under, per spec.md §4.7's mapping table. Unrecognized agent types fall
// back to DefaultList.
var AgentTypeList = map[string]string{
	"analyze-issue": "Brainstorm",
	"resolve-issue": "Em Andamento",
	"review-issue":  "Em Revisão",
	"publish-issue": "Publicar",
}

// DefaultList is where a card lands when IssueReceived fires before any
// job has claimed it, or when an agent_type has no mapping entry.
const DefaultList = "Issues"

// defaultListOrder seeds the board with every list the mapping can route
// to, so a fresh board already has columns in a sensible order before the
// first card ever lands in one.
var defaultListOrder = []string{DefaultList, "Brainstorm", "Em Andamento", "Em Revisão", "Publicar"}

// Card mirrors spec.md §4.7's KanbanCard projection entity.
type Card struct {
	ID                   string     `json:"id"`
	ListName             string     `json:"list_name"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Position             int        `json:"position"`
	Labels               []string   `json:"labels"`
	IssueNumber          int        `json:"issue_number"`
	IssueURL             string     `json:"issue_url"`
	TrelloCardID         *string    `json:"trello_card_id,omitempty"`
	BeingProcessed       bool       `json:"being_processed"`
	ProcessingJobID      *string    `json:"processing_job_id,omitempty"`
	ProcessingStep       int        `json:"processing_step"`
	ProcessingTotalSteps int        `json:"processing_total_steps"`
	ProcessingStartedAt  *time.Time `json:"processing_started_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// HistoryEntry records one lifecycle transition for a card: a list move,
// a processing start/stop, or a label change.
type HistoryEntry struct {
	CardID    string    `json:"card_id"`
	Kind      string    `json:"kind"` // "list_change" | "processing_start" | "processing_end" | "label_change"
	FromValue string    `json:"from_value"`
	ToValue   string    `json:"to_value"`
	Timestamp time.Time `json:"timestamp"`
}

// Board is the local SQLite-backed kanban projection: the source of truth
// spec.md §4.7 says the external provider only mirrors.
type Board struct {
	db  *sql.DB
	mu  sync.Mutex
	bus domain.EventBus
}

// Open creates (or reopens) the board database at dbPath, applying its
// schema and seeding the default list set if missing.
func Open(dbPath string, bus domain.EventBus) (*Board, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, skyerr.Wrap(skyerr.KindUnavailable, "kanban.Open", "create db directory", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, skyerr.Wrap(skyerr.KindUnavailable, "kanban.Open", "open sqlite database", err)
	}
	b := &Board{db: db, bus: bus}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logger.InfoCF("kanban", "board opened", map[string]interface{}{"db_path": dbPath})
	return b, nil
}

func (b *Board) Health() error {
	if b.db == nil {
		return skyerr.New(skyerr.KindUnavailable, "Board.Health", "database not initialized")
	}
	return b.db.Ping()
}

func (b *Board) Close() error { return b.db.Close() }

func (b *Board) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS boards (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		name TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS lists (
		name TEXT PRIMARY KEY,
		sort_order INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		list_name TEXT NOT NULL REFERENCES lists(name),
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		position INTEGER NOT NULL,
		labels TEXT DEFAULT '',
		issue_number INTEGER NOT NULL,
		issue_url TEXT DEFAULT '',
		trello_card_id TEXT,
		being_processed INTEGER NOT NULL DEFAULT 0,
		processing_job_id TEXT,
		processing_step INTEGER NOT NULL DEFAULT 0,
		processing_total_steps INTEGER NOT NULL DEFAULT 0,
		processing_started_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_cards_issue ON cards(issue_number);
	CREATE INDEX IF NOT EXISTS idx_cards_list ON cards(list_name, position);
	CREATE INDEX IF NOT EXISTS idx_cards_job ON cards(processing_job_id);

	CREATE TABLE IF NOT EXISTS card_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		card_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		from_value TEXT DEFAULT '',
		to_value TEXT DEFAULT '',
		timestamp TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_card_history_card ON card_history(card_id, timestamp);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return skyerr.Wrap(skyerr.KindInternal, "Board.initSchema", "create schema", err)
	}
	if _, err := b.db.Exec("INSERT OR IGNORE INTO boards (id, name) VALUES (1, 'skybridge')"); err != nil {
		return skyerr.Wrap(skyerr.KindInternal, "Board.initSchema", "seed board row", err)
	}
	for i, name := range defaultListOrder {
		if _, err := b.db.Exec("INSERT OR IGNORE INTO lists (name, sort_order) VALUES (?, ?)", name, i); err != nil {
			return skyerr.Wrap(skyerr.KindInternal, "Board.initSchema", "seed list row", err)
		}
	}
	return nil
}

func (b *Board) ensureList(tx *sql.Tx, name string) error {
	row := tx.QueryRow("SELECT COALESCE(MAX(sort_order), -1) + 1 FROM lists")
	var next int
	if err := row.Scan(&next); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT OR IGNORE INTO lists (name, sort_order) VALUES (?, ?)", name, next)
	return err
}

func (b *Board) nextID() (string, error) {
	row := b.db.QueryRow("SELECT COUNT(*) FROM cards")
	var n int
	if err := row.Scan(&n); err != nil {
		return "", skyerr.Wrap(skyerr.KindInternal, "Board.nextID", "count cards", err)
	}
	return fmt.Sprintf("CARD-%04d", n+1), nil
}

// ListForAgentType resolves the list name a job's agent_type routes to.
func ListForAgentType(agentType string) string {
	if name, ok := AgentTypeList[agentType]; ok {
		return name
	}
	return DefaultList
}

// EnsureCard reacts to IssueReceived: it guarantees a card exists in
// DefaultList for issueNumber, creating one if absent, and returns the
// (possibly pre-existing) card.
func (b *Board) EnsureCard(issueNumber int, issueURL, title string) (*Card, error) {
	b.mu.Lock()
	locked := true
	defer func() {
		if locked {
			b.mu.Unlock()
		}
	}()

	existing, err := b.scanCard(b.db.QueryRow(selectCardCols+" FROM cards WHERE issue_number = ?", issueNumber))
	if err == nil {
		return existing, nil
	}
	if !skyerr.Is(err, skyerr.KindNotFound) {
		return nil, err
	}

	id, err := b.nextID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	tx, err := b.db.Begin()
	if err != nil {
		return nil, skyerr.Wrap(skyerr.KindUnavailable, "Board.EnsureCard", "begin tx", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow("SELECT COALESCE(MAX(position), -1) + 1 FROM cards WHERE list_name = ?", DefaultList)
	var position int
	if err := row.Scan(&position); err != nil {
		return nil, skyerr.Wrap(skyerr.KindInternal, "Board.EnsureCard", "compute append position", err)
	}

	_, err = tx.Exec(`INSERT INTO cards (id, list_name, title, description, position, labels, issue_number, issue_url,
		trello_card_id, being_processed, processing_step, processing_total_steps, created_at, updated_at)
		VALUES (?, ?, ?, '', ?, '', ?, ?, NULL, 0, 0, 0, ?, ?)`,
		id, DefaultList, title, position, issueNumber, issueURL, now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, skyerr.Wrap(skyerr.KindInternal, "Board.EnsureCard", "insert card", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, skyerr.Wrap(skyerr.KindUnavailable, "Board.EnsureCard", "commit tx", err)
	}

	card, err := b.scanCard(b.db.QueryRow(selectCardCols+" FROM cards WHERE id = ?", id))
	b.mu.Unlock()
	locked = false
	b.publish(domain.EventCardCreated, id, map[string]interface{}{"issue_number": issueNumber})
	return card, err
}

// StartProcessing reacts to JobStarted: it upserts a card into the list
// agentType routes to, reserves position 0 for it (the currently
// processing card always sits at the top of its column), and marks it
// being_processed.
func (b *Board) StartProcessing(issueNumber int, issueURL, title, agentType, jobID string) (*Card, error) {
	b.mu.Lock()
	locked := true
	defer func() {
		if locked {
			b.mu.Unlock()
		}
	}()

	listName := ListForAgentType(agentType)
	now := time.Now().UTC()

	tx, err := b.db.Begin()
	if err != nil {
		return nil, skyerr.Wrap(skyerr.KindUnavailable, "Board.StartProcessing", "begin tx", err)
	}
	defer tx.Rollback()

	if err := b.ensureList(tx, listName); err != nil {
		return nil, skyerr.Wrap(skyerr.KindInternal, "Board.StartProcessing", "ensure list", err)
	}

	var id, fromList string
	row := tx.QueryRow("SELECT id, list_name FROM cards WHERE issue_number = ?", issueNumber)
	scanErr := row.Scan(&id, &fromList)

	if _, err := tx.Exec("UPDATE cards SET position = position + 1 WHERE list_name = ?", listName); err != nil {
		return nil, skyerr.Wrap(skyerr.KindInternal, "Board.StartProcessing", "reserve position 0", err)
	}

	if scanErr == sql.ErrNoRows {
		id, err = b.nextID()
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(`INSERT INTO cards (id, list_name, title, description, position, labels, issue_number, issue_url,
			trello_card_id, being_processed, processing_job_id, processing_step, processing_total_steps, processing_started_at, created_at, updated_at)
			VALUES (?, ?, ?, '', 0, '', ?, ?, NULL, 1, ?, 0, 0, ?, ?, ?)`,
			id, listName, title, issueNumber, issueURL, jobID, now.Format(time.RFC3339), now.Format(time.RFC3339), now.Format(time.RFC3339))
		if err != nil {
			return nil, skyerr.Wrap(skyerr.KindInternal, "Board.StartProcessing", "insert card", err)
		}
		fromList = ""
	} else if scanErr != nil {
		return nil, skyerr.Wrap(skyerr.KindInternal, "Board.StartProcessing", "lookup card", scanErr)
	} else {
		_, err = tx.Exec(`UPDATE cards SET list_name = ?, position = 0, being_processed = 1, processing_job_id = ?,
			processing_step = 0, processing_started_at = ?, updated_at = ? WHERE id = ?`,
			listName, jobID, now.Format(time.RFC3339), now.Format(time.RFC3339), id)
		if err != nil {
			return nil, skyerr.Wrap(skyerr.KindInternal, "Board.StartProcessing", "update card", err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO card_history (card_id, kind, from_value, to_value, timestamp) VALUES (?, 'processing_start', ?, ?, ?)`,
		id, fromList, jobID, now.Format(time.RFC3339)); err != nil {
		return nil, skyerr.Wrap(skyerr.KindInternal, "Board.StartProcessing", "insert history", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, skyerr.Wrap(skyerr.KindUnavailable, "Board.StartProcessing", "commit tx", err)
	}

	card, err := b.scanCard(b.db.QueryRow(selectCardCols+" FROM cards WHERE id = ?", id))
	b.mu.Unlock()
	locked = false
	b.publish(domain.EventCardTransitioned, id, map[string]interface{}{"job_id": jobID, "list": listName})
	return card, err
}

// SetProcessingStep updates the step counter a long-running job reports,
// for dashboard progress bars.
func (b *Board) SetProcessingStep(jobID string, step, totalSteps int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.db.Exec("UPDATE cards SET processing_step = ?, processing_total_steps = ?, updated_at = ? WHERE processing_job_id = ?",
		step, totalSteps, time.Now().UTC().Format(time.RFC3339), jobID)
	if err != nil {
		return skyerr.Wrap(skyerr.KindInternal, "Board.SetProcessingStep", "update card", err)
	}
	return nil
}

// FinishProcessing reacts to JobCompleted/JobFailed: it clears
// being_processed and processing_job_id and writes a history entry.
// Position is left as-is — §4.7 only specifies clearing the processing
// flags, not re-sorting the list.
func (b *Board) FinishProcessing(jobID string, success bool, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	row := b.db.QueryRow("SELECT id FROM cards WHERE processing_job_id = ?", jobID)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return skyerr.New(skyerr.KindNotFound, "Board.FinishProcessing", "no card for job: "+jobID)
		}
		return skyerr.Wrap(skyerr.KindInternal, "Board.FinishProcessing", "lookup card", err)
	}
	now := time.Now().UTC()

	tx, err := b.db.Begin()
	if err != nil {
		return skyerr.Wrap(skyerr.KindUnavailable, "Board.FinishProcessing", "begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE cards SET being_processed = 0, processing_job_id = NULL, updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339), id); err != nil {
		return skyerr.Wrap(skyerr.KindInternal, "Board.FinishProcessing", "update card", err)
	}
	outcome := "completed"
	if !success {
		outcome = "failed"
	}
	if _, err := tx.Exec(`INSERT INTO card_history (card_id, kind, from_value, to_value, timestamp) VALUES (?, 'processing_end', ?, ?, ?)`,
		id, jobID, outcome+": "+reason, now.Format(time.RFC3339)); err != nil {
		return skyerr.Wrap(skyerr.KindInternal, "Board.FinishProcessing", "insert history", err)
	}
	if err := tx.Commit(); err != nil {
		return skyerr.Wrap(skyerr.KindUnavailable, "Board.FinishProcessing", "commit tx", err)
	}

	eventType := domain.EventJobCompleted
	if !success {
		eventType = domain.EventJobFailed
	}
	b.publish(eventType, id, map[string]interface{}{"job_id": jobID, "reason": reason})
	return nil
}

// UpdateLabels reacts to IssueLabelled: it recomputes a card's tag set.
func (b *Board) UpdateLabels(issueNumber int, labels []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	row := b.db.QueryRow("SELECT id, labels FROM cards WHERE issue_number = ?", issueNumber)
	var id, oldLabels string
	if err := row.Scan(&id, &oldLabels); err != nil {
		if err == sql.ErrNoRows {
			return skyerr.New(skyerr.KindNotFound, "Board.UpdateLabels", fmt.Sprintf("no card for issue %d", issueNumber))
		}
		return skyerr.Wrap(skyerr.KindInternal, "Board.UpdateLabels", "lookup card", err)
	}
	newLabels := strings.Join(labels, ",")
	now := time.Now().UTC()

	tx, err := b.db.Begin()
	if err != nil {
		return skyerr.Wrap(skyerr.KindUnavailable, "Board.UpdateLabels", "begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE cards SET labels = ?, updated_at = ? WHERE id = ?", newLabels, now.Format(time.RFC3339), id); err != nil {
		return skyerr.Wrap(skyerr.KindInternal, "Board.UpdateLabels", "update card", err)
	}
	if _, err := tx.Exec(`INSERT INTO card_history (card_id, kind, from_value, to_value, timestamp) VALUES (?, 'label_change', ?, ?, ?)`,
		id, oldLabels, newLabels, now.Format(time.RFC3339)); err != nil {
		return skyerr.Wrap(skyerr.KindInternal, "Board.UpdateLabels", "insert history", err)
	}
	if err := tx.Commit(); err != nil {
		return skyerr.Wrap(skyerr.KindUnavailable, "Board.UpdateLabels", "commit tx", err)
	}
	return nil
}

// SetTrelloCardID stashes the external provider's card id once async sync
// succeeds, without touching list/position — last-write-wins is resolved
// by trellosync, not here.
func (b *Board) SetTrelloCardID(cardID, trelloCardID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.db.Exec("UPDATE cards SET trello_card_id = ?, updated_at = ? WHERE id = ?",
		trelloCardID, time.Now().UTC().Format(time.RFC3339), cardID)
	if err != nil {
		return skyerr.Wrap(skyerr.KindInternal, "Board.SetTrelloCardID", "update card", err)
	}
	return nil
}

const selectCardCols = `SELECT id, list_name, title, description, position, labels, issue_number, issue_url,
	trello_card_id, being_processed, processing_job_id, processing_step, processing_total_steps,
	processing_started_at, created_at, updated_at`

// GetCard retrieves a single card by its board id.
func (b *Board) GetCard(cardID string) (*Card, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scanCard(b.db.QueryRow(selectCardCols+" FROM cards WHERE id = ?", cardID))
}

// GetCardByIssueNumber looks up the card filed for a given issue, or nil if
// none exists yet.
func (b *Board) GetCardByIssueNumber(issueNumber int) (*Card, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	card, err := b.scanCard(b.db.QueryRow(selectCardCols+" FROM cards WHERE issue_number = ?", issueNumber))
	if skyerr.Is(err, skyerr.KindNotFound) {
		return nil, nil
	}
	return card, err
}

// ListByList returns every card in a list, ordered by position.
func (b *Board) ListByList(listName string) ([]*Card, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows, err := b.db.Query(selectCardCols+" FROM cards WHERE list_name = ? ORDER BY position", listName)
	if err != nil {
		return nil, skyerr.Wrap(skyerr.KindUnavailable, "Board.ListByList", "query cards", err)
	}
	defer rows.Close()
	var cards []*Card
	for rows.Next() {
		c, err := scanCardRow(rows)
		if err != nil {
			continue
		}
		cards = append(cards, c)
	}
	return cards, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (b *Board) scanCard(row rowScanner) (*Card, error) {
	c, err := scanCardRow(row)
	if err == sql.ErrNoRows {
		return nil, skyerr.New(skyerr.KindNotFound, "Board.scanCard", "card not found")
	}
	if err != nil {
		return nil, skyerr.Wrap(skyerr.KindInternal, "Board.scanCard", "scan row", err)
	}
	return c, nil
}

func scanCardRow(row rowScanner) (*Card, error) {
	var c Card
	var labels, created, updated string
	var trelloID, processingJobID, processingStartedAt sql.NullString
	var beingProcessed int
	err := row.Scan(&c.ID, &c.ListName, &c.Title, &c.Description, &c.Position, &labels, &c.IssueNumber, &c.IssueURL,
		&trelloID, &beingProcessed, &processingJobID, &c.ProcessingStep, &c.ProcessingTotalSteps,
		&processingStartedAt, &created, &updated)
	if err != nil {
		return nil, err
	}
	if labels != "" {
		c.Labels = strings.Split(labels, ",")
	}
	if trelloID.Valid {
		c.TrelloCardID = &trelloID.String
	}
	c.BeingProcessed = beingProcessed != 0
	if processingJobID.Valid {
		c.ProcessingJobID = &processingJobID.String
	}
	if processingStartedAt.Valid {
		t, _ := time.Parse(time.RFC3339, processingStartedAt.String)
		c.ProcessingStartedAt = &t
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, created)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &c, nil
}

// Stats summarizes the board for the dashboard.
type Stats struct {
	ByList map[string]int `json:"by_list"`
	Total  int            `json:"total"`
}

func (b *Board) Stats() (*Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows, err := b.db.Query("SELECT list_name, COUNT(*) FROM cards GROUP BY list_name")
	if err != nil {
		return nil, skyerr.Wrap(skyerr.KindUnavailable, "Board.Stats", "query stats", err)
	}
	defer rows.Close()
	stats := &Stats{ByList: make(map[string]int)}
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			continue
		}
		stats.ByList[name] = count
		stats.Total += count
	}
	return stats, nil
}

func (b *Board) publish(eventType domain.EventType, cardID string, data map[string]interface{}) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(domain.NewEvent(eventType, domain.EntityID(cardID), data))
}
