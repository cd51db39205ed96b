package txn

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/azmodb/concourse/pkg/wire"
)

// Dir is the subdirectory name spec section 6 names for transaction
// backup files, rooted under the Engine's data directory.
const Dir = "transactions"

func backupPath(root string, id uint64) string {
	return filepath.Join(root, Dir, fmt.Sprintf("%020d.txn", id))
}

// serializeBackup renders spec section 6's transaction backup format:
// locksSize:4 | (transactionLock)* | (write)*. Each transactionLock is a
// length-prefixed opaque token byte string; the locks section exists so
// a crash mid-commit leaves enough on disk to know what was held, even
// though Restore only needs the writes to replay.
func serializeBackup(lockTokens [][]byte, writes []wire.Write) []byte {
	var locks []byte
	for _, tok := range lockTokens {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(tok)))
		locks = append(locks, lenBuf[:]...)
		locks = append(locks, tok...)
	}

	buf := make([]byte, 0, 4+len(locks))
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(locks)))
	buf = append(buf, sizeBuf[:]...)
	buf = append(buf, locks...)
	for _, w := range writes {
		buf = w.AppendTo(buf)
	}
	return buf
}

// deserializeBackup parses serializeBackup's output, returning the
// recorded lock tokens (opaque) and the buffered writes.
func deserializeBackup(buf []byte) ([][]byte, []wire.Write, error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("txn: backup too short for locks size header")
	}
	locksSize := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint32(len(buf)) < locksSize {
		return nil, nil, fmt.Errorf("txn: backup truncated in locks section")
	}
	locksBuf := buf[:locksSize]
	buf = buf[locksSize:]

	var locks [][]byte
	for len(locksBuf) > 0 {
		if len(locksBuf) < 4 {
			return nil, nil, fmt.Errorf("txn: truncated lock entry header")
		}
		n := binary.BigEndian.Uint32(locksBuf[:4])
		locksBuf = locksBuf[4:]
		if uint32(len(locksBuf)) < n {
			return nil, nil, fmt.Errorf("txn: truncated lock token")
		}
		locks = append(locks, append([]byte(nil), locksBuf[:n]...))
		locksBuf = locksBuf[n:]
	}

	var writes []wire.Write
	for len(buf) > 0 {
		w, n, err := wire.DecodeWrite(buf)
		if err != nil {
			return nil, nil, err
		}
		writes = append(writes, wire.Write{
			Action:  w.Action,
			Version: w.Version,
			Record:  w.Record,
			Key:     append([]byte(nil), w.Key...),
			Value:   append([]byte(nil), w.Value...),
		})
		buf = buf[n:]
	}
	return locks, writes, nil
}

// WriteBackup durably writes id's backup file under root, atomically
// (write to a .tmp path, then rename).
func WriteBackup(root string, id uint64, lockTokens [][]byte, writes []wire.Write) error {
	if err := os.MkdirAll(filepath.Join(root, Dir), 0o700); err != nil {
		return err
	}
	path := backupPath(root, id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, serializeBackup(lockTokens, writes), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// DeleteBackup removes id's backup file, tolerating its absence.
func DeleteBackup(root string, id uint64) error {
	err := os.Remove(backupPath(root, id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Restore scans root's transactions directory for lingering backup
// files left by a crash mid-commit, replaying each one's writes through
// replay in file (id) order and deleting the file once replay succeeds.
// Called once at Engine startup, before serving reads or writes.
func Restore(root string, replay func(writes []wire.Write) error) error {
	dir := filepath.Join(root, Dir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txn") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, writes, err := deserializeBackup(data)
		if err != nil {
			return fmt.Errorf("txn: restoring %s: %w", name, err)
		}
		if err := replay(writes); err != nil {
			return fmt.Errorf("txn: replaying %s: %w", name, err)
		}
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}
