package ros

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/edaniels/gobag/rosbag"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ReadBag reads the contents of a rosbag into a gobag data structure.
func ReadBag(filename string) (*rosbag.RosBag, error) {
	//nolint:gosec
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open input file")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	rb := rosbag.NewRosBag()

	if err := rb.Read(f); err != nil {
		return nil, errors.Wrapf(err, "unable to create ros bag, error")
	}

	return rb, nil
}

// bagTopicKey is the name gobag files a topic's messages under: no leading slash, the
// remaining slashes replaced by underscores, lower case.
func bagTopicKey(topic string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(topic, "/"), "/", "_"))
}

// AllMessagesForTopic returns all messages for a specific topic in the ros bag.
func AllMessagesForTopic(rb *rosbag.RosBag, topic string) ([]map[string]interface{}, error) {
	if err := rb.ParseTopicsToJSON(
		"",
		func(int64) bool { return true },
		func(t string) bool { return t == topic },
		false,
	); err != nil {
		return nil, errors.Wrapf(err, "error while parsing bag to JSON")
	}

	msgs := rb.TopicsAsJSON[bagTopicKey(topic)]
	if msgs == nil {
		return nil, errors.Errorf("no messages for topic %s", topic)
	}

	all := []map[string]interface{}{}

	for {
		data, err := msgs.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		message := map[string]interface{}{}
		err = json.Unmarshal(data, &message)
		if err != nil {
			return nil, err
		}

		all = append(all, message)
	}

	return all, nil
}

// bagPointCloud2 mirrors the JSON gobag produces for a sensor_msgs/PointCloud2.
type bagPointCloud2 struct {
	Header struct {
		Seq   uint32
		Stamp struct {
			Secs  uint32
			Nsecs uint32
		}
		FrameID string `mapstructure:"frame_id"`
	}
	Height uint32
	Width  uint32
	Fields []struct {
		Name     string
		Offset   uint32
		Datatype uint8
		Count    uint32
	}
	IsBigEndian bool   `mapstructure:"is_bigendian"`
	PointStep   uint32 `mapstructure:"point_step"`
	RowStep     uint32 `mapstructure:"row_step"`
	Data        []byte
	IsDense     bool `mapstructure:"is_dense"`
}

// base64BytesHook decodes byte arrays that were written as base64 strings.
func base64BytesHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf([]byte(nil)) {
		return data, nil
	}
	return base64.StdEncoding.DecodeString(data.(string))
}

// PointCloudFromBagMessage converts one message returned by AllMessagesForTopic into a
// PointCloud2. Errors wrap ErrMalformed.
func PointCloudFromBagMessage(message map[string]interface{}) (*PointCloud2, error) {
	data, ok := message["data"]
	if !ok {
		return nil, errors.Wrap(ErrMalformed, "bag message has no data")
	}
	var raw bagPointCloud2
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       base64BytesHook,
		WeaklyTypedInput: true,
		Result:           &raw,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(data); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "decoding bag message: %v", err)
	}

	msg := &PointCloud2{
		Header: Header{
			Seq:     raw.Header.Seq,
			FrameID: raw.Header.FrameID,
		},
		Height:      raw.Height,
		Width:       raw.Width,
		IsBigEndian: raw.IsBigEndian,
		PointStep:   raw.PointStep,
		RowStep:     raw.RowStep,
		Data:        raw.Data,
		IsDense:     raw.IsDense,
	}
	if raw.Header.Stamp.Secs != 0 || raw.Header.Stamp.Nsecs != 0 {
		msg.Header.Stamp = time.Unix(int64(raw.Header.Stamp.Secs), int64(raw.Header.Stamp.Nsecs)).UTC()
	}
	for _, f := range raw.Fields {
		msg.Fields = append(msg.Fields, PointField{Name: f.Name, Offset: f.Offset, Datatype: f.Datatype, Count: f.Count})
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// PointCloudsFromBag reads every PointCloud2 recorded on topic in the bag at filename.
func PointCloudsFromBag(filename, topic string) ([]*PointCloud2, error) {
	rb, err := ReadBag(filename)
	if err != nil {
		return nil, err
	}
	messages, err := AllMessagesForTopic(rb, topic)
	if err != nil {
		return nil, err
	}
	clouds := make([]*PointCloud2, 0, len(messages))
	for i, message := range messages {
		msg, err := PointCloudFromBagMessage(message)
		if err != nil {
			return nil, errors.Wrapf(err, "message %d on %s", i, topic)
		}
		clouds = append(clouds, msg)
	}
	return clouds, nil
}
