package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/filestore"
	"github.com/koustreak/pgshape/internal/schema"
)

const jsonContentType = "application/json"

// Object stores schemas in an object store bucket as <prefix>/<table>.json.
type Object struct {
	store  filestore.Store
	bucket string
	prefix string
}

// NewObject returns an object store snapshot under bucket and prefix.
func NewObject(store filestore.Store, bucket, prefix string) *Object {
	return &Object{store: store, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Load implements Store.
func (o *Object) Load(ctx context.Context, table string) (*schema.TableSchema, error) {
	obj, err := o.store.GetObject(ctx, o.bucket, o.key(table))
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, fmt.Sprintf("read snapshot of table %q", table), err)
	}
	return decode(table, data)
}

// Save implements Store.
func (o *Object) Save(ctx context.Context, s *schema.TableSchema) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	_, err = o.store.PutObject(ctx, o.bucket, o.key(s.Table), bytes.NewReader(data), int64(len(data)), jsonContentType)
	return err
}

// Tables lists the tables with a stored snapshot, in key order.
func (o *Object) Tables(ctx context.Context) ([]string, error) {
	listPrefix := ""
	if o.prefix != "" {
		listPrefix = o.prefix + "/"
	}
	objs, err := o.store.ListObjects(ctx, o.bucket, filestore.ListOptions{Prefix: listPrefix})
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, obj := range objs {
		name := strings.TrimPrefix(obj.Key, listPrefix)
		if strings.Contains(name, "/") || !strings.HasSuffix(name, ".json") {
			continue
		}
		tables = append(tables, strings.TrimSuffix(name, ".json"))
	}
	return tables, nil
}

func (o *Object) key(table string) string {
	return path.Join(o.prefix, table+".json")
}
