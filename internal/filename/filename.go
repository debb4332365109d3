// Package filename maps (subject, repetition, item) to the canonical
// recording file name and back, and screens names before they reach a
// filesystem.
//
// Canonical form: {subjectId}_{repetition}{item}.{ext}, for example
// "42_1A.webm" or "42_3Backspace.wav". The same validator guards upload,
// listing and deletion.
package filename

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Extension is a supported capture container.
type Extension string

const (
	ExtWebM Extension = "webm"
	ExtWAV  Extension = "wav"
)

// ErrInvalidFilename is returned for names that fail the contract.
var ErrInvalidFilename = errors.New("invalid filename")

var (
	basePattern    = regexp.MustCompile(`(?i)^\d+_\d+(?:[A-Z]|Done|Enter|Delete|Repeat|Backspace|Again|Undo|Tutorial|Screening)$`)
	subjectPattern = regexp.MustCompile(`^\d+$`)
)

// forbidden characters in addition to path separators and NUL.
const forbiddenChars = `<>:"/\|?*`

// ValidationError describes why a name was refused.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid filename %q: %s", e.Name, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidFilename.
func (e *ValidationError) Unwrap() error { return ErrInvalidFilename }

// ErrorKind classifies the failure for callers deciding on retries.
func (e *ValidationError) ErrorKind() string { return "validation" }

// Name is a decoded recording file name.
type Name struct {
	SubjectID  string
	Repetition int
	Item       string
	Ext        Extension
}

// String formats n without validating it.
func (n Name) String() string {
	return fmt.Sprintf("%s_%d%s.%s", n.SubjectID, n.Repetition, n.Item, n.Ext)
}

// Encode builds the canonical file name and checks it against the contract.
func Encode(subjectID string, repetition int, item string, ext Extension) (string, error) {
	name := Name{SubjectID: subjectID, Repetition: repetition, Item: item, Ext: ext}.String()
	if err := Validate(name); err != nil {
		return "", err
	}
	return name, nil
}

// Decode parses a canonical name. Item casing is returned as written.
func Decode(name string) (Name, error) {
	if err := Validate(name); err != nil {
		return Name{}, err
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	subject, rest, _ := strings.Cut(base, "_")

	split := 0
	for split < len(rest) && rest[split] >= '0' && rest[split] <= '9' {
		split++
	}
	repetition, err := strconv.Atoi(rest[:split])
	if err != nil {
		return Name{}, &ValidationError{Name: name, Reason: "repetition out of range"}
	}

	return Name{
		SubjectID:  subject,
		Repetition: repetition,
		Item:       rest[split:],
		Ext:        Extension(strings.ToLower(strings.TrimPrefix(ext, "."))),
	}, nil
}

// Validate reports whether name is an acceptable recording file name.
func Validate(name string) error {
	if err := CheckSafe(name); err != nil {
		return err
	}

	ext := filepath.Ext(name)
	switch Extension(strings.ToLower(strings.TrimPrefix(ext, "."))) {
	case ExtWebM, ExtWAV:
	default:
		return &ValidationError{Name: name, Reason: "extension must be .wav or .webm"}
	}

	if !basePattern.MatchString(strings.TrimSuffix(name, ext)) {
		return &ValidationError{Name: name, Reason: "name does not match {subject}_{repetition}{item}"}
	}
	return nil
}

// CheckSafe screens a name for traversal sequences, separators, NUL,
// control characters and the characters in forbiddenChars.
func CheckSafe(name string) error {
	if name == "" {
		return &ValidationError{Name: name, Reason: "empty name"}
	}
	if strings.Contains(name, "..") {
		return &ValidationError{Name: name, Reason: "contains '..'"}
	}
	if strings.ContainsAny(name, forbiddenChars) {
		return &ValidationError{Name: name, Reason: "contains a forbidden character"}
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return &ValidationError{Name: name, Reason: "contains a control character"}
		}
	}
	return nil
}

// ValidSubjectID reports whether id consists only of ASCII digits.
func ValidSubjectID(id string) bool {
	return subjectPattern.MatchString(id)
}

// SubjectPrefix returns the prefix shared by every file of a subject.
func SubjectPrefix(subjectID string) string {
	return subjectID + "_"
}

// ContentType returns the audio MIME type for an extension.
func ContentType(ext Extension) string {
	switch ext {
	case ExtWAV:
		return "audio/wav"
	default:
		return "audio/webm"
	}
}
