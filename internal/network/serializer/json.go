package serializer

import (
	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/sessionmanager-go/internal/json"
)

var _ Serializer = JSONSerializer{}

// JSONSerializer 走 internal/json（sonic）。宿主链路的帧与事件参数都用它。
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	return data, errors.Wrapf(err, "serializer: marshal %T", v)
}

func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return errors.Wrapf(json.Unmarshal(data, v), "serializer: unmarshal into %T", v)
}
