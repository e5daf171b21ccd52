// Package storagetest provides an in-memory S3 endpoint for tests. It speaks
// just enough of the path-style REST API for the thumbnail store.
package storagetest

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

type object struct {
	data     []byte
	modified time.Time
}

// FakeS3 is an httptest server holding objects of one or more buckets
type FakeS3 struct {
	Server *httptest.Server

	mu      sync.Mutex
	buckets map[string]map[string]object
	gets    int
}

// New starts a FakeS3 with bucket pre-created. It is closed when the test ends.
func New(t testing.TB, bucket string) *FakeS3 {
	t.Helper()
	f := &FakeS3{buckets: map[string]map[string]object{bucket: {}}}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the endpoint for the S3 client
func (f *FakeS3) URL() string {
	return f.Server.URL
}

// Object returns the stored object body
func (f *FakeS3) Object(bucket, key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.buckets[bucket][key]
	return string(o.data), ok
}

// PutAged stores an object with a modification time in the past
func (f *FakeS3) PutAged(bucket, key, data string, age time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[bucket][key] = object{data: []byte(data), modified: time.Now().Add(-age)}
}

// Gets returns how many GetObject calls were served
func (f *FakeS3) Gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func (f *FakeS3) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")

	f.mu.Lock()
	defer f.mu.Unlock()

	objects, ok := f.buckets[bucket]
	if !ok && !(r.Method == http.MethodPut && key == "") {
		writeError(w, http.StatusNotFound, "NoSuchBucket")
		return
	}

	switch {
	case key == "" && r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case key == "" && r.Method == http.MethodPut:
		if !ok {
			f.buckets[bucket] = map[string]object{}
		}
		w.WriteHeader(http.StatusOK)
	case key == "" && r.Method == http.MethodGet:
		f.list(w, bucket, objects, r.URL.Query().Get("prefix"))
	case key == "" && r.Method == http.MethodPost && r.URL.Query().Has("delete"):
		f.deleteMany(w, r, objects)
	case r.Method == http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "IncompleteBody")
			return
		}
		objects[key] = object{data: body, modified: time.Now()}
		w.Header().Set("ETag", fmt.Sprintf(`"%x"`, len(body)))
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		f.gets++
		o, found := objects[key]
		if !found {
			writeError(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(o.data)))
		w.Header().Set("Last-Modified", o.modified.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		w.Write(o.data)
	case r.Method == http.MethodDelete:
		delete(objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

type listContents struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	Size         int    `xml:"Size"`
}

type listResult struct {
	XMLName     xml.Name       `xml:"ListBucketResult"`
	Name        string         `xml:"Name"`
	Prefix      string         `xml:"Prefix"`
	KeyCount    int            `xml:"KeyCount"`
	MaxKeys     int            `xml:"MaxKeys"`
	IsTruncated bool           `xml:"IsTruncated"`
	Contents    []listContents `xml:"Contents"`
}

func (f *FakeS3) list(w http.ResponseWriter, bucket string, objects map[string]object, prefix string) {
	res := listResult{Name: bucket, Prefix: prefix, MaxKeys: 1000}
	keys := make([]string, 0, len(objects))
	for k := range objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		o := objects[k]
		res.Contents = append(res.Contents, listContents{
			Key:          k,
			LastModified: o.modified.UTC().Format("2006-01-02T15:04:05.000Z"),
			Size:         len(o.data),
		})
	}
	res.KeyCount = len(res.Contents)
	writeXML(w, http.StatusOK, res)
}

type deleteRequest struct {
	Objects []struct {
		Key string `xml:"Key"`
	} `xml:"Object"`
}

type deleteResult struct {
	XMLName xml.Name `xml:"DeleteResult"`
	Deleted []struct {
		Key string `xml:"Key"`
	} `xml:"Deleted"`
}

func (f *FakeS3) deleteMany(w http.ResponseWriter, r *http.Request, objects map[string]object) {
	var req deleteRequest
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MalformedXML")
		return
	}
	var res deleteResult
	for _, o := range req.Objects {
		delete(objects, o.Key)
		res.Deleted = append(res.Deleted, struct {
			Key string `xml:"Key"`
		}{Key: o.Key})
	}
	writeXML(w, http.StatusOK, res)
}

type errorBody struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeXML(w, status, errorBody{Code: code, Message: code})
}

func writeXML(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	io.WriteString(w, xml.Header)
	xml.NewEncoder(w).Encode(v)
}
