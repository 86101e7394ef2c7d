package gitrepo

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffResult compares the committed files of two revisions line by line.
type DiffResult struct {
	From         string `json:"from"`
	To           string `json:"to"`
	Changed      bool   `json:"changed"`
	TitleChanged bool   `json:"titleChanged"`
	Added        int    `json:"added"`
	Removed      int    `json:"removed"`
	Patch        string `json:"patch"`
}

// Diff compares two revisions of a document.
func (s *Service) Diff(documentID, fromHash, toHash string) (DiffResult, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return DiffResult{}, err
	}
	fromCommit, err := commitByHash(repo, fromHash)
	if err != nil {
		return DiffResult{}, err
	}
	toCommit, err := commitByHash(repo, toHash)
	if err != nil {
		return DiffResult{}, err
	}

	fromRaw, err := readRawContent(fromCommit)
	if err != nil {
		return DiffResult{}, err
	}
	toRaw, err := readRawContent(toCommit)
	if err != nil {
		return DiffResult{}, err
	}
	fromContent, err := readContentFromCommit(fromCommit)
	if err != nil {
		return DiffResult{}, err
	}
	toContent, err := readContentFromCommit(toCommit)
	if err != nil {
		return DiffResult{}, err
	}

	result := LineDiff(string(fromRaw), string(toRaw))
	result.From = fromCommit.Hash.String()
	result.To = toCommit.Hash.String()
	result.Changed = HasChanges(fromContent, toContent)
	result.TitleChanged = fromContent.Title != toContent.Title
	return result, nil
}

// LineDiff counts added and removed lines between two texts and renders a
// patch in the diff-match-patch text format.
func LineDiff(before, after string) DiffResult {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(beforeChars, afterChars, false), lines)

	var result DiffResult
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			result.Added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			result.Removed += countLines(d.Text)
		}
	}
	result.Changed = result.Added > 0 || result.Removed > 0
	result.Patch = dmp.PatchToText(dmp.PatchMake(before, diffs))
	return result
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
