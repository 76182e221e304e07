package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const samplePipelineJSON = `{
  "nodes": {
    "a": {"node":"Constant","params":{"value":{"type":"Data","value":{"type":"Text","value":"x"}}},"position":{"x":1,"y":2}},
    "c": {"node":"IfNone","params":{},"position":{"x":3,"y":4}}
  },
  "edges": [
    {"source":{"node":"a","port":"out"},"target":{"node":"c","port":"data"},"kind":"Data"}
  ]
}`

func TestParsePipelineRoundTrip(t *testing.T) {
	doc, err := ParsePipeline([]byte(samplePipelineJSON))
	require.NoError(t, err)
	require.Equal(t, "Constant", doc.Nodes["a"].TypeName)
	require.Len(t, doc.Edges, 1)

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	doc2, err := ParsePipeline(data)
	require.NoError(t, err)
	if diff := cmp.Diff(doc, doc2); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePipelineRejectsUnknownTopLevelField(t *testing.T) {
	_, err := ParsePipeline([]byte(`{"nodes":{},"edges":[],"bogus":1}`))
	require.Error(t, err)
}

func TestParsePipelineRejectsUnknownNodeField(t *testing.T) {
	_, err := ParsePipeline([]byte(`{"nodes":{"a":{"node":"Constant","bogus":1}},"edges":[]}`))
	require.Error(t, err)
}

func TestParsePipelineRejectsUnknownEdgeKind(t *testing.T) {
	_, err := ParsePipeline([]byte(`{"nodes":{},"edges":[{"source":{"node":"a","port":"out"},"target":{"node":"b","port":"in"},"kind":"Weird"}]}`))
	require.Error(t, err)
}

func TestParsePipelineEmptyBuildsToEmptyGraph(t *testing.T) {
	doc, err := ParsePipeline([]byte(`{"nodes":{},"edges":[]}`))
	require.NoError(t, err)
	require.Empty(t, doc.Nodes)
	require.Empty(t, doc.Edges)
}
