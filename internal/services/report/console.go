package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/sigrelay/internal/events"
)

const dateLayout = "2006-01-02 15:04:05"

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	headStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle  = lipgloss.NewStyle().Padding(0, 1)
)

var orderHeaders = []string{
	"trade id", "exchange", "pair", "direction", "open rate", "order type",
	"stake amount", "cost", "fee", "amount", "filled", "date",
}

// Console renders signals, orders and balances as tables.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Report(_ context.Context, r events.Record) {
	var out string
	switch r.Kind {
	case events.KindSignalReceived:
		out = signalTable(r)
	case events.KindOrderResult:
		out = orderTable(r)
	case events.KindBalanceSnapshot:
		out = balanceTable(r)
	case events.KindError:
		out = errorStyle.Render(fmt.Sprintf("%s %s: %s", r.Source.Account, r.SignalKind, r.Error))
	default:
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.w, out)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func titled(title string, t *table.Table) string {
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), t.String())
}

// signalTable lists every received field, titled <exchange>/<kind>.
func signalTable(r events.Record) string {
	t := newTable("field", "value")

	fields := r.Signal.Fields
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t.Row(k, fmt.Sprint(fields[k]))
	}

	return titled(r.Source.Exchange+"/"+string(r.SignalKind), t)
}

func orderTable(r events.Record) string {
	o := r.Order
	t := newTable(orderHeaders...)
	t.Row(
		o.TradeID,
		r.Source.Exchange,
		o.Pair.String(),
		string(o.Side),
		str(o.Price),
		"market",
		str(o.StakeAmount),
		str(o.Cost),
		str(o.Fee),
		str(o.RequestedAmount),
		str(o.FilledAmount),
		date(o.Timestamp),
	)

	return titled(fmt.Sprintf("%s/%s %s", r.Source.Exchange, r.SignalKind, o.Status), t)
}

func balanceTable(r events.Record) string {
	s := r.Balance
	t := newTable("asset", "free", "used", "total")
	for _, asset := range s.SortedAssets() {
		b := s.Assets[asset]
		t.Row(asset, str(b.Free), str(b.Used), str(b.Total))
	}

	return titled("Balance", t)
}

func str(d decimal.Decimal) string {
	if d.IsZero() {
		return "-"
	}
	return d.String()
}

func date(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(dateLayout)
}

var _ events.Sink = (*Console)(nil)

