// Package sqltool turns a natural-language question into one validated,
// read-only SQL query over the olist SQLite database, executes it, and
// retries once with a relaxed query when the result set is empty.
package sqltool

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/olist-insight/server/internal/agent/model"
	"github.com/olist-insight/server/internal/agent/oracle"
	errx "github.com/olist-insight/server/internal/core/error"
	logx "github.com/olist-insight/server/pkg/logger"
)

// CategoryAliases maps localized (Indonesian) category terms to canonical
// values of product_category_name_english. Scanning the question for these is
// a deterministic text-augmentation step, not a retrieval.
var CategoryAliases = map[string]string{
	"elektronik":               "electronics",
	"elektronik rumah tangga":  "home_appliances",
	"fashion pria":             "mens_fashion",
	"fashion wanita":           "womens_fashion",
	"buku":                     "books_general_interest",
	"kesehatan dan kecantikan": "health_beauty",
}

// Tool answers questions by generating and executing SELECT-only SQL.
type Tool struct {
	db                *sql.DB
	topN              int
	orc               oracle.Oracle
	categories        []string
	schemaDescription string
}

// New opens the database and loads the category catalog. A missing database
// file is fatal here: the tool refuses to initialize rather than limping.
func New(cfg model.SQLToolConfig, orc oracle.Oracle) (*Tool, error) {
	if _, err := os.Stat(cfg.DBPath); err != nil {
		return nil, errx.New(fmt.Errorf("sqlite database not found at %s", cfg.DBPath), http.StatusInternalServerError, errx.MissingDataMessage)
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	topN := cfg.TopN
	if topN <= 0 {
		topN = 20
	}

	t := &Tool{db: db, topN: topN, orc: orc}
	if t.categories, err = t.loadCategories(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("load category catalog: %w", err)
	}
	t.schemaDescription = t.buildSchemaDescription()

	logx.Debug().Int("categories", len(t.categories)).Msg("sql tool initialised")
	return t, nil
}

// Categories returns the distinct product_category_name_english values, for
// UI auto-suggest and for the result payload.
func (t *Tool) Categories() []string {
	return t.categories
}

// Close releases the underlying database handle.
func (t *Tool) Close() error {
	return t.db.Close()
}

func (t *Tool) loadCategories(ctx context.Context) ([]string, error) {
	conn, err := t.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT DISTINCT product_category_name_english
		FROM fact_order_items
		WHERE product_category_name_english IS NOT NULL
		ORDER BY product_category_name_english`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (t *Tool) categoriesPreview() string {
	cats := t.categories
	if len(cats) > 50 {
		cats = cats[:50]
	}
	if len(cats) == 0 {
		return "(no categories found)"
	}
	return strings.Join(cats, ", ")
}

func (t *Tool) buildSchemaDescription() string {
	return fmt.Sprintf(`Main table: fact_order_items

Columns of fact_order_items:
- order_id (TEXT)
- order_item_id (INTEGER)
- product_id (TEXT)
- seller_id (TEXT)
- seller_city (TEXT)
- product_category_name (TEXT, original category name)
- product_category_name_english (TEXT, e.g. 'electronics', 'computers_accessories')
- review_comment_message (TEXT)
- review_score (INTEGER)

Example values of product_category_name_english:
%s

Rules:
- Only SELECT, WHERE, GROUP BY, ORDER BY, LIMIT are allowed.
- UPDATE/DELETE/INSERT/ALTER/DROP/CREATE/REPLACE/TRUNCATE are forbidden.
- Use the table name: fact_order_items.
- When filtering product categories, ALWAYS use product_category_name_english.
- Category names in product_category_name_english are English values such as
  'electronics', 'computers_accessories', 'books_general_interest'.
- If the user names a category in Indonesian, translate it to the closest
  English value before writing SQL.
- The user's question can be in Indonesian or English.
- Append LIMIT %d at the end of the query.`, t.categoriesPreview(), t.topN)
}

// normalizeQuestion appends an explicit disambiguation note for every known
// localized category alias found in the question.
func (t *Tool) normalizeQuestion(question string) string {
	lower := strings.ToLower(question)
	var notes []string
	for indo, eng := range CategoryAliases {
		if strings.Contains(lower, indo) {
			notes = append(notes, fmt.Sprintf(
				"The word '%s' here refers to the English category '%s' in the product_category_name_english column.",
				indo, eng))
		}
	}
	if len(notes) == 0 {
		return question
	}
	return question + "\n\nCategory notes:\n" + strings.Join(notes, "\n")
}

func stripSQLFences(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for {
		idx := strings.Index(lower, "```sql")
		if idx < 0 {
			break
		}
		s = s[:idx] + s[idx+len("```sql"):]
		lower = strings.ToLower(s)
	}
	return strings.TrimSpace(strings.ReplaceAll(s, "```", ""))
}

func (t *Tool) generateSQL(ctx context.Context, question string) (string, error) {
	system := "You are an SQL assistant for SQLite. " +
		"Your task is to write ONE valid SELECT query for SQLite. " +
		"NEVER output UPDATE/DELETE/INSERT/ALTER/DROP/CREATE/REPLACE/TRUNCATE. " +
		"Output only the SQL, without any explanation."

	user := fmt.Sprintf(
		"Schema:\n%s\n\nValid product_category_name_english values (examples):\n%s\n\n"+
			"The user's question can be in Indonesian or English.\n\n"+
			"User question:\n%s\n\n"+
			"Write ONE SELECT query that answers the question. "+
			"If the user mentions a product category in Indonesian, map it to the "+
			"closest English value in product_category_name_english "+
			"(e.g., 'elektronik' -> 'electronics'). "+
			"The query must be syntactically valid for SQLite.",
		t.schemaDescription, t.categoriesPreview(), question)

	raw, err := t.orc.Complete(ctx, system, []model.Turn{{Role: "user", Content: user}}, 400)
	if err != nil {
		return "", err
	}
	return stripSQLFences(raw), nil
}

func (t *Tool) generateFallbackSQL(ctx context.Context, question, firstSQL string) (string, error) {
	system := "You are an SQL assistant for SQLite. " +
		"The first SELECT query returned 0 rows. " +
		"Write ONE alternative SELECT query that is still relevant, " +
		"but with slightly looser conditions (for example, remove overly " +
		"specific category filters or use LIKE). " +
		"The query must still be read-only. Do NOT use any write operations."

	user := fmt.Sprintf(
		"Schema:\n%s\n\nValid product_category_name_english values (examples):\n%s\n\n"+
			"The user's question may be in Indonesian or English.\n\n"+
			"User question:\n%s\n\n"+
			"First query (returned 0 rows):\n%s\n\n"+
			"Now write ONE alternative SELECT query that is safer and more relaxed, "+
			"but still trying to answer the same question.",
		t.schemaDescription, t.categoriesPreview(), question, firstSQL)

	raw, err := t.orc.Complete(ctx, system, []model.Turn{{Role: "user", Content: user}}, 400)
	if err != nil {
		return "", err
	}
	return stripSQLFences(raw), nil
}

// runSQL executes one statement on a connection scoped to this call and
// truncates the result to topN rows. The connection is released even on
// failure.
func (t *Tool) runSQL(ctx context.Context, sqlText string) (model.TableResult, error) {
	var res model.TableResult

	conn, err := t.db.Conn(ctx)
	if err != nil {
		return res, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return res, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return res, err
	}
	res.Columns = cols
	res.Rows = [][]any{}

	for rows.Next() {
		if len(res.Rows) >= t.topN {
			break
		}
		cells := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return res, err
		}
		for i, c := range cells {
			if b, ok := c.([]byte); ok {
				cells[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, cells)
	}
	return res, rows.Err()
}

func (t *Tool) summarize(ctx context.Context, question, sqlUsed string, result model.TableResult, lang model.Lang) (string, error) {
	var system, langInstruction string
	if lang == model.LangEN {
		system = "You are a senior data analyst. Summarize the result of a SQLite query in clear and concise English."
		langInstruction = "Write the answer in English."
	} else {
		system = "Kamu adalah analis data senior. Ringkas hasil query SQLite dalam bahasa Indonesia yang jelas dan singkat."
		langInstruction = "Tulis jawaban dalam bahasa Indonesia."
	}

	previewRows := result.Rows
	if len(previewRows) > 10 {
		previewRows = previewRows[:10]
	}
	preview := fmt.Sprintf("Columns: %v\nRows: %v", result.Columns, previewRows)

	user := fmt.Sprintf(
		"User question:\n%s\n\nSQL executed:\n%s\n\nResult (preview):\n%s\n\n%s "+
			"If there are no rows, clearly explain that there is no matching data.",
		question, sqlUsed, preview, langInstruction)

	return t.orc.Complete(ctx, system, []model.Turn{{Role: "user", Content: user}}, 400)
}

// Query runs the full pipeline: normalize, generate, validate, execute,
// fallback on empty, summarize. Validation failure of the initial query is a
// tool error for the turn; an unsafe fallback keeps the empty initial result.
func (t *Tool) Query(ctx context.Context, question string, lang model.Lang) (*model.SQLQueryResult, error) {
	normalized := t.normalizeQuestion(question)

	raw1, err := t.generateSQL(ctx, normalized)
	if err != nil {
		return nil, err
	}
	sql1 := NormalizeSQL(raw1)

	if !Validate(sql1) {
		return nil, errx.UnsafeSQL(sql1)
	}

	result1, err := t.runSQL(ctx, sql1)
	if err != nil {
		return nil, err
	}

	usedFallback := false
	sqlUsed := sql1
	sqlFallback := ""
	resultUsed := result1

	if len(result1.Rows) == 0 {
		raw2, err := t.generateFallbackSQL(ctx, normalized, sql1)
		if err != nil {
			return nil, err
		}
		sql2 := NormalizeSQL(raw2)

		if Validate(sql2) {
			result2, err := t.runSQL(ctx, sql2)
			if err != nil {
				return nil, err
			}
			sqlUsed = sql2
			sqlFallback = sql2
			resultUsed = result2
			usedFallback = true
		} else {
			logx.Warn().Str("sql", sql2).Msg("fallback SQL rejected by validation; keeping empty initial result")
		}
	}

	summary, err := t.summarize(ctx, question, sqlUsed, resultUsed, lang)
	if err != nil {
		return nil, err
	}

	return &model.SQLQueryResult{
		Question:     question,
		AnswerLang:   lang,
		SQLInitial:   sql1,
		SQLUsed:      sqlUsed,
		SQLFallback:  sqlFallback,
		UsedFallback: usedFallback,
		Result:       resultUsed,
		Summary:      summary,
		Categories:   t.categories,
	}, nil
}
