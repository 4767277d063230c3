package results

import (
	"encoding/xml"
	"fmt"
	"strings"

	"releasedash/src/model"
)

// JUnit XML schema. Artifacts come from heterogeneous build scripts, so
// both a <testsuites> root and a bare <testsuite> root are accepted.

type testSuites struct {
	XMLName xml.Name    `xml:"testsuites"`
	Suites  []testSuite `xml:"testsuite"`
}

type testSuite struct {
	Name     string     `xml:"name,attr"`
	Tests    int        `xml:"tests,attr"`
	Failures int        `xml:"failures,attr"`
	Errors   int        `xml:"errors,attr"`
	Cases    []testCase `xml:"testcase"`
}

type testCase struct {
	Name      string       `xml:"name,attr"`
	ClassName string       `xml:"classname,attr"`
	Failure   *caseDefect  `xml:"failure"`
	Error     *caseDefect  `xml:"error"`
	Skipped   *caseSkipped `xml:"skipped"`
}

type caseDefect struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

type caseSkipped struct {
	Message string `xml:"message,attr"`
}

// parseJUnit extracts failing and erroring test cases from JUnit XML.
// Passing and skipped cases are not materialized; an artifact where every
// test passed parses to an empty slice.
func parseJUnit(data []byte, buildID int64) ([]model.TestFailure, error) {
	var root testSuites
	if err := xml.Unmarshal(data, &root); err == nil && len(root.Suites) > 0 {
		return extractFailures(root.Suites, buildID), nil
	}

	var suite testSuite
	if err := xml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse JUnit XML: %w", err)
	}

	return extractFailures([]testSuite{suite}, buildID), nil
}

func extractFailures(suites []testSuite, buildID int64) []model.TestFailure {
	var failures []model.TestFailure

	for _, suite := range suites {
		for _, tc := range suite.Cases {
			if tc.Failure != nil {
				failures = append(failures, newFailure(suite, tc, "failure", tc.Failure, buildID))
			}
			if tc.Error != nil {
				failures = append(failures, newFailure(suite, tc, "error", tc.Error, buildID))
			}
		}
	}

	return failures
}

func newFailure(suite testSuite, tc testCase, kind string, defect *caseDefect, buildID int64) model.TestFailure {
	suiteName := suite.Name
	if suiteName == "" {
		suiteName = tc.ClassName
	}
	return model.TestFailure{
		SuiteName: suiteName,
		CaseName:  tc.Name,
		Kind:      kind,
		Message:   defect.Message,
		Trace:     trimTrace(defect.Content),
		BuildID:   buildID,
	}
}

// trimTrace keeps an excerpt of the stack trace: surrounding whitespace
// stripped, capped at traceMaxLines lines.
const traceMaxLines = 30

func trimTrace(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) > traceMaxLines {
		lines = lines[:traceMaxLines]
	}
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	return strings.Join(lines, "\n")
}
