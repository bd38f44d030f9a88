package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type testRecord struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSerializer(t *testing.T) {
	t.Run("test JSONSerializer", testJSONSerializer)
	t.Run("test JSONSerializerErrors", testJSONSerializerErrors)
	t.Run("test BytesSerializer", testBytesSerializer)
	t.Run("test ProtoSerializer", testProtoSerializer)
	t.Run("test SerializeErrorBehavior", testSerializeErrorBehavior)
}

func testJSONSerializer(t *testing.T) {
	serializer := NewJSONSerializer[testRecord]()

	data, err := serializer.Serialize(testRecord{Name: "a", Count: 3})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"name":"a","count":3}`, string(data))

	record, err := serializer.Deserialize(data)
	assert.NoError(t, err)
	assert.Equal(t, testRecord{Name: "a", Count: 3}, record)
}

func testJSONSerializerErrors(t *testing.T) {
	_, err := NewJSONSerializer[any]().Serialize(make(chan int))
	assert.Error(t, err)

	_, err = NewJSONSerializer[testRecord]().Deserialize([]byte("{broken"))
	assert.Error(t, err)
}

func testBytesSerializer(t *testing.T) {
	serializer := NewBytesSerializer()

	value := []byte("abc")
	data, err := serializer.Serialize(value)
	assert.NoError(t, err)

	value[0] = 'x'
	assert.Equal(t, []byte("abc"), data)

	decoded, err := serializer.Deserialize(data)
	assert.NoError(t, err)
	assert.Equal(t, []byte("abc"), decoded)
}

func testProtoSerializer(t *testing.T) {
	serializer := NewProtoSerializer(func() *wrapperspb.StringValue {
		return &wrapperspb.StringValue{}
	})

	data, err := serializer.Serialize(wrapperspb.String("hello"))
	assert.NoError(t, err)

	message, err := serializer.Deserialize(data)
	assert.NoError(t, err)
	assert.True(t, proto.Equal(wrapperspb.String("hello"), message))

	_, err = serializer.Deserialize([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func testSerializeErrorBehavior(t *testing.T) {
	var zeroBehavior SerializeErrorBehavior[StringKey, string]
	value, ok := zeroBehavior.resolve("k", assert.AnError)
	assert.False(t, ok)
	assert.Equal(t, "", value)

	value, ok = ReturnDefaultValue[StringKey, string]("fallback").resolve("k", assert.AnError)
	assert.True(t, ok)
	assert.Equal(t, "fallback", value)

	handled := []StringKey{}
	behavior := UseHandler[StringKey, string](func(key StringKey, err error) (string, bool) {
		handled = append(handled, key)
		return "handled:" + string(key), true
	})

	value, ok = behavior.resolve("k", assert.AnError)
	assert.True(t, ok)
	assert.Equal(t, "handled:k", value)
	assert.Equal(t, []StringKey{"k"}, handled)
}
