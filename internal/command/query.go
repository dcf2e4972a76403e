package command

import (
	"github.com/mysqlwire/client/internal/mysqlerr"
	"github.com/mysqlwire/client/internal/wire"
)

// queryPhase tracks where a Query command is in its response state machine.
type queryPhase int

const (
	phaseAwaitFirst queryPhase = iota
	phaseColumnDefs
	phaseAwaitEOFOrRows
	phaseRows
)

// ColumnDefinition is one column-definition packet's decoded fields,
// restricted to what callers of this driver need to interpret rows; full
// catalog metadata (collation, flags, decimals) is out of scope per the
// packet-layout-only contract this command implements.
type ColumnDefinition struct {
	Name string
}

// ResultSet is one complete result set produced by a Query: its column
// definitions and every row, each row a slice of raw column values (nil
// for SQL NULL).
type ResultSet struct {
	Columns []ColumnDefinition
	Rows    [][][]byte
}

// Query is COM_QUERY: it runs the full state machine in spec §4.4,
// including the MORE_RESULTS_EXISTS loop that produces more than one
// ResultSet for multi-statement queries.
type Query struct {
	*Base

	sql              []byte
	deprecateEOF     bool
	results          []*ResultSet

	phase        queryPhase
	columnCount  uint64
	columnsSeen  int
	current      *ResultSet
}

// NewQuery constructs a Query command for sql, encoded in the session's
// character set by the caller before being passed in here. deprecateEOF
// must match the capability negotiated at handshake time.
func NewQuery(sql []byte, deprecateEOF bool) *Query {
	return &Query{
		Base:         NewBase(),
		sql:          sql,
		deprecateEOF: deprecateEOF,
		phase:        phaseAwaitFirst,
	}
}

func (*Query) ExpectsResponse() bool { return true }

func (*Query) Name() string { return "query" }

func (q *Query) RequestBytes() []byte {
	out := make([]byte, 1+len(q.sql))
	out[0] = wire.ComQuery
	copy(out[1:], q.sql)
	return out
}

// Results returns every result set produced so far. Valid to call once the
// command has completed successfully.
func (q *Query) Results() []*ResultSet { return q.results }

func (q *Query) Feed(pkt *wire.Packet) (bool, error) {
	payload := pkt.Payload
	switch q.phase {
	case phaseAwaitFirst:
		return q.feedFirst(payload)
	case phaseColumnDefs:
		return q.feedColumnDef(payload)
	case phaseAwaitEOFOrRows:
		return q.feedEOFOrRow(payload)
	case phaseRows:
		return q.feedEOFOrRow(payload)
	default:
		err := mysqlerr.Unexpected("query command in unreachable phase", nil)
		q.MarkComplete(err)
		return true, err
	}
}

func (q *Query) feedFirst(payload []byte) (bool, error) {
	if len(payload) == 0 {
		err := mysqlerr.MalformedPacket("empty first response packet for query")
		q.MarkComplete(err)
		return true, err
	}
	switch payload[0] {
	case wire.ErrPacketHeader:
		return q.terminateWithServerError(payload)
	case wire.OKPacketHeader:
		q.MarkComplete(nil)
		return true, nil
	}
	r := wire.NewPayloadReader(payload)
	n, err := r.LengthEncodedInt()
	if err != nil {
		q.MarkComplete(err)
		return true, err
	}
	q.columnCount = n
	q.columnsSeen = 0
	q.current = &ResultSet{}
	if q.columnCount == 0 {
		q.phase = phaseAwaitEOFOrRows
		return false, nil
	}
	q.phase = phaseColumnDefs
	return false, nil
}

func (q *Query) feedColumnDef(payload []byte) (bool, error) {
	if len(payload) > 0 && payload[0] == wire.ErrPacketHeader {
		return q.terminateWithServerError(payload)
	}
	col, err := parseColumnDefinition(payload)
	if err != nil {
		q.MarkComplete(err)
		return true, err
	}
	q.current.Columns = append(q.current.Columns, *col)
	q.columnsSeen++
	if q.columnsSeen < int(q.columnCount) {
		return false, nil
	}
	if q.deprecateEOF {
		q.phase = phaseRows
	} else {
		q.phase = phaseAwaitEOFOrRows
	}
	return false, nil
}

func (q *Query) feedEOFOrRow(payload []byte) (bool, error) {
	if len(payload) == 0 {
		err := mysqlerr.MalformedPacket("empty packet in query row phase")
		q.MarkComplete(err)
		return true, err
	}
	if payload[0] == wire.ErrPacketHeader {
		return q.terminateWithServerError(payload)
	}
	if q.isTerminator(payload) {
		moreResults := q.terminatorHasMoreResults(payload)
		q.results = append(q.results, q.current)
		q.current = nil
		if moreResults {
			q.phase = phaseAwaitFirst
			return false, nil
		}
		q.MarkComplete(nil)
		return true, nil
	}
	if q.phase == phaseAwaitEOFOrRows && !q.deprecateEOF {
		// the single metadata-separating EOF packet, not a row
		q.phase = phaseRows
		return false, nil
	}
	row, err := parseRow(payload, len(q.current.Columns))
	if err != nil {
		q.MarkComplete(err)
		return true, err
	}
	q.current.Rows = append(q.current.Rows, row)
	return false, nil
}

// isTerminator reports whether payload is the packet that ends the current
// result set's row stream, per §4.4 step 4.
func (q *Query) isTerminator(payload []byte) bool {
	if !q.deprecateEOF {
		return payload[0] == wire.EOFPacketHeader && len(payload) < 9 && q.phase != phaseAwaitEOFOrRows
	}
	return (payload[0] == wire.OKPacketHeader || payload[0] == wire.EOFPacketHeader) && len(payload) >= 7
}

// terminatorHasMoreResults extracts the status-flags field from the
// terminating packet. Field order differs between the two packet types it
// might be: an EOF_Packet orders warnings before status_flags, while an
// OK_Packet orders status_flags before warnings (after affected_rows and
// last_insert_id, which only the OK_Packet carries).
func (q *Query) terminatorHasMoreResults(payload []byte) bool {
	r := wire.NewPayloadReader(payload)
	if _, err := r.FixedLengthBytes(1); err != nil {
		return false
	}
	if q.deprecateEOF {
		if _, err := r.LengthEncodedInt(); err != nil { // affected rows
			return false
		}
		if _, err := r.LengthEncodedInt(); err != nil { // last insert id
			return false
		}
		status, err := r.FixedLengthInt(2)
		if err != nil {
			return false
		}
		return uint16(status)&wire.StatusMoreResultsExists != 0
	}
	if _, err := r.FixedLengthInt(2); err != nil { // warnings
		return false
	}
	status, err := r.FixedLengthInt(2)
	if err != nil {
		return false
	}
	return uint16(status)&wire.StatusMoreResultsExists != 0
}

func (q *Query) terminateWithServerError(payload []byte) (bool, error) {
	errPkt, err := wire.ParseErrPacket(payload, true)
	if err != nil {
		q.MarkComplete(err)
		return true, err
	}
	srvErr := &mysqlerr.ServerError{Code: errPkt.Code, SQLState: errPkt.SQLState, Message: errPkt.Message}
	q.MarkComplete(srvErr)
	return true, nil
}

func parseColumnDefinition(payload []byte) (*ColumnDefinition, error) {
	r := wire.NewPayloadReader(payload)
	if _, err := r.LengthEncodedString(); err != nil { // catalog
		return nil, err
	}
	if _, err := r.LengthEncodedString(); err != nil { // schema
		return nil, err
	}
	if _, err := r.LengthEncodedString(); err != nil { // table
		return nil, err
	}
	if _, err := r.LengthEncodedString(); err != nil { // org_table
		return nil, err
	}
	name, err := r.LengthEncodedString()
	if err != nil {
		return nil, err
	}
	return &ColumnDefinition{Name: name}, nil
}

func parseRow(payload []byte, columnCount int) ([][]byte, error) {
	r := wire.NewPayloadReader(payload)
	row := make([][]byte, columnCount)
	for i := 0; i < columnCount; i++ {
		if r.IsNextNull() {
			if err := r.SkipNull(); err != nil {
				return nil, err
			}
			row[i] = nil
			continue
		}
		s, err := r.LengthEncodedString()
		if err != nil {
			return nil, err
		}
		row[i] = []byte(s)
	}
	return row, nil
}
