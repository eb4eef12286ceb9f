package tgd

import (
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// ConvertJSONFileToConfig opens a file.json and converts to DriverSeasoning.
func ConvertJSONFileToConfig(fileNamePath string) (*DriverSeasoning, error) {
	byteValue, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read config file")
	}

	return ConvertJSONBytesToConfig(byteValue)
}

// ConvertJSONBytesToConfig converts raw JSON bytes to DriverSeasoning.
func ConvertJSONBytesToConfig(data []byte) (*DriverSeasoning, error) {
	config := &DriverSeasoning{}
	var json = jsoniter.ConfigFastest
	err := json.Unmarshal(data, config)

	return config, errors.Wrap(err, "unable to parse config")
}
