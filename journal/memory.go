package journal

import "sync"

// MemJournal is an in-memory Journal, used by tests and by governance
// shadow forks that replay a seed event list without touching disk.
type MemJournal struct {
	mu      sync.Mutex
	records []Record
	seq     seqGuard
}

func NewMemJournal() *MemJournal {
	return &MemJournal{}
}

func (j *MemJournal) Append(kind Kind, payload interface{}) (uint64, error) {
	raw, err := EncodePayload(payload)
	if err != nil {
		return 0, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	seq := j.seq.reserve()
	j.records = append(j.records, Record{Seq: seq, Kind: kind, Payload: raw})
	return seq, nil
}

func (j *MemJournal) LoadFrom(from uint64) ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Record
	for _, r := range j.records {
		if r.Seq >= from {
			out = append(out, r)
		}
	}
	return out, nil
}

func (j *MemJournal) NextSeq() uint64 { return j.seq.peek() }

func (j *MemJournal) Close() error { return nil }

var _ Journal = (*MemJournal)(nil)
