package database

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Nystya/optimistic-commit/domain"
	"github.com/pkg/errors"
)

type WriteAheadLogConfig struct {
	Dir         string
	MaxFileSize int64 // KB per segment
	Prefix      string
}

// WriteAheadLog is an append-only, size-rotated log of JSON-line entries.
// Segment files are named "<index>_<prefix>_wal" so recovery can replay them
// in append order.
type WriteAheadLog struct {
	dir         string
	fileList    []string
	activeFile  string
	nextIndex   int
	maxFileSize int64
	prefix      string
}

const KiloByte = 1024

func NewWriteAheadLog(config *WriteAheadLogConfig) (*WriteAheadLog, error) {
	files, err := os.ReadDir(config.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read wal directory %q", config.Dir)
	}

	fileListNames := make([]string, 0)
	for _, file := range files {
		if !strings.HasSuffix(file.Name(), fmt.Sprintf("_%v_wal", config.Prefix)) {
			continue
		}

		fileListNames = append(fileListNames, filepath.Join(config.Dir, file.Name()))
	}

	sort.Slice(fileListNames, func(i, j int) bool {
		return segmentIndex(fileListNames[i]) < segmentIndex(fileListNames[j])
	})

	var activeFile string
	var nextIndex int
	if len(fileListNames) > 0 {
		activeFile = fileListNames[len(fileListNames)-1]
		nextIndex = segmentIndex(activeFile) + 1
	}

	return &WriteAheadLog{
		dir:         config.Dir,
		fileList:    fileListNames,
		activeFile:  activeFile,
		nextIndex:   nextIndex,
		maxFileSize: config.MaxFileSize * KiloByte,
		prefix:      config.Prefix,
	}, nil
}

func segmentIndex(path string) int {
	idx, _ := strconv.Atoi(strings.Split(filepath.Base(path), "_")[0])
	return idx
}

// Recover replays every segment in order and returns all entries ever
// appended, oldest first.
func (w *WriteAheadLog) Recover() ([]*domain.Entry, error) {
	entryList := make([]*domain.Entry, 0)

	for _, file := range w.fileList {
		f, err := os.Open(file)
		if err != nil {
			return nil, errors.Wrapf(err, "could not open wal segment %q", file)
		}

		reader := bufio.NewReader(f)

		for {
			line, err := reader.ReadBytes('\n')
			if err == io.EOF {
				break
			}

			if err != nil {
				_ = f.Close()
				return nil, errors.Wrapf(err, "could not read wal segment %q", file)
			}

			entry := &domain.Entry{}
			if err := json.Unmarshal(line, entry); err != nil {
				_ = f.Close()
				return nil, errors.Wrapf(err, "corrupt wal record in %q", file)
			}

			entryList = append(entryList, entry)
		}

		if err := f.Close(); err != nil {
			return nil, err
		}
	}

	return entryList, nil
}

func (w *WriteAheadLog) Append(entry *domain.Entry) error {
	if w.activeFile == "" {
		if err := w.createNextFile(); err != nil {
			return err
		}
	}

	stat, err := os.Stat(w.activeFile)
	if err != nil {
		return errors.Wrap(err, "could not stat active wal segment")
	}

	// Rotate to the next segment once the active one is full.
	if stat.Size() >= w.maxFileSize {
		if err = w.createNextFile(); err != nil {
			return err
		}
	}

	marshal, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "could not marshal wal record")
	}

	file, err := os.OpenFile(w.activeFile, os.O_RDWR|os.O_APPEND, 0666)
	if err != nil {
		return errors.Wrapf(err, "could not open active wal segment %q", w.activeFile)
	}

	defer file.Close()

	jsonData := string(marshal) + "\n"

	curLen := 0

	for curLen < len(jsonData) {
		writtenLen, err := file.WriteString(jsonData[curLen:])
		if err != nil {
			return errors.Wrapf(err, "could not append to wal segment %q", w.activeFile)
		}

		curLen += writtenLen
	}

	return nil
}

func (w *WriteAheadLog) createNextFile() error {
	create, err := os.Create(filepath.Join(w.dir, fmt.Sprintf("%v_%v_wal", w.nextIndex, w.prefix)))
	if err != nil {
		return errors.Wrap(err, "could not create wal segment")
	}

	w.activeFile = create.Name()
	w.fileList = append(w.fileList, w.activeFile)
	w.nextIndex++

	return create.Close()
}
