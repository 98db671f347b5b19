package journal

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/smartcomputer-ai/agentos/internal/aoserr"
)

// FileJournal is the durable on-disk Journal: `.aos/journal/journal.log`,
// concatenated `<u32 LE length><record bytes>`. Recovery scans from byte 0
// on open, aborting with *Corrupt on a truncated length header or payload.
type FileJournal struct {
	mu   sync.Mutex
	file *os.File
	seq  seqGuard
	// cache holds every recovered/appended record so LoadFrom doesn't need
	// a second disk scan; the file remains authoritative on restart.
	cache []Record
}

// OpenFileJournal opens (creating if absent) the log at path and replays it
// to rebuild the seq counter and in-memory cache.
func OpenFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, aoserr.Wrap(aoserr.KindJournal, "open journal "+path, err)
	}
	j := &FileJournal{file: f}
	if err := j.recover(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return j, nil
}

func (j *FileJournal) recover() error {
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return aoserr.Wrap(aoserr.KindJournal, "seek to start", err)
	}
	r := bufio.NewReader(j.file)
	var offset int64

	for {
		lenBuf := make([]byte, 4)
		n, err := io.ReadFull(r, lenBuf)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF || (err == nil && n < 4) {
			return &Corrupt{Offset: offset, Reason: "truncated length header"}
		}
		if err != nil {
			return aoserr.Wrap(aoserr.KindJournal, "read length header", err)
		}
		length := binary.LittleEndian.Uint32(lenBuf)
		offset += 4

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return &Corrupt{Offset: offset, Reason: "truncated record body"}
		}
		offset += int64(length)

		var wr wireRecord
		if err := decodeWire(payload, &wr); err != nil {
			return &Corrupt{Offset: offset, Reason: "record failed to decode: " + err.Error()}
		}
		j.seq.observe(wr.Seq)
		j.cache = append(j.cache, Record{Seq: wr.Seq, Kind: Kind(wr.Kind), Payload: wr.Payload})
	}

	// seek to end for subsequent appends
	if _, err := j.file.Seek(0, io.SeekEnd); err != nil {
		return aoserr.Wrap(aoserr.KindJournal, "seek to end", err)
	}
	return nil
}

func (j *FileJournal) Append(kind Kind, payload interface{}) (uint64, error) {
	raw, err := EncodePayload(payload)
	if err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	seq := j.seq.reserve()
	wr := wireRecord{Seq: seq, Kind: string(kind), Payload: raw}
	wireBytes, err := encodeWire(wr)
	if err != nil {
		return 0, aoserr.Wrap(aoserr.KindJournal, "encode record", err)
	}

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(wireBytes)))

	if _, err := j.file.Write(lenBuf); err != nil {
		return 0, aoserr.Wrap(aoserr.KindJournal, "write length header", err)
	}
	if _, err := j.file.Write(wireBytes); err != nil {
		return 0, aoserr.Wrap(aoserr.KindJournal, "write record body", err)
	}
	if err := j.file.Sync(); err != nil {
		return 0, aoserr.Wrap(aoserr.KindJournal, "fsync", err)
	}

	j.cache = append(j.cache, Record{Seq: seq, Kind: kind, Payload: raw})
	return seq, nil
}

func (j *FileJournal) LoadFrom(from uint64) ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Record
	for _, r := range j.cache {
		if r.Seq >= from {
			out = append(out, r)
		}
	}
	return out, nil
}

func (j *FileJournal) NextSeq() uint64 { return j.seq.peek() }

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

var _ Journal = (*FileJournal)(nil)
