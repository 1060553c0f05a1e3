package call

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/openthread/engine/pkg/thread/types"
)

// mediaKind maps a MediaType to the SDP "m=" media field.
func mediaKind(t types.MediaType) string {
	if t == types.MediaVideo {
		return "video"
	}
	return "audio"
}

// EncodeOffer renders descs as a full SDP offer/answer body, the wire
// format this location hands to its local ICE/media stack and sends to
// the remote location through the call transport. The thread document
// itself keeps the lighter-weight types.Description shape; this is the
// conversion boundary between that and the RFC4566 text a real media
// engine expects.
func EncodeOffer(sessionID uint64, originAddr string, descs []types.Description) ([]byte, error) {
	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: originAddr,
		},
		SessionName: "-",
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	for _, d := range descs {
		md := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   mediaKind(d.Type),
				Port:    sdp.RangedPort{Value: 9},
				Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
				Formats: []string{}, // payload types are negotiated by the codec list below
			},
		}
		md.Attributes = append(md.Attributes,
			sdp.Attribute{Key: "ice-ufrag", Value: d.ICEUsername},
			sdp.Attribute{Key: "ice-pwd", Value: d.ICEPassword},
			sdp.Attribute{Key: "ssrc", Value: strconv.FormatUint(uint64(d.SSRC), 10)},
		)
		for _, codec := range d.Codecs {
			md.Attributes = append(md.Attributes, sdp.Attribute{Key: "rtpmap", Value: codec})
		}
		for _, c := range d.Candidates {
			md.Attributes = append(md.Attributes, sdp.Attribute{Key: "candidate", Value: c})
		}
		for _, cp := range d.CryptoParams {
			md.Attributes = append(md.Attributes, sdp.Attribute{Key: "crypto", Value: cp})
		}
		if d.Final {
			md.Attributes = append(md.Attributes, sdp.Attribute{Key: "end-of-candidates"})
		}
		sd.MediaDescriptions = append(sd.MediaDescriptions, md)
	}

	return sd.Marshal()
}

// ParseOffer decodes raw SDP text back into the Description shape the
// thread document stores.
func ParseOffer(raw []byte) ([]types.Description, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("call: parse SDP: %w", err)
	}

	descs := make([]types.Description, 0, len(sd.MediaDescriptions))
	for _, md := range sd.MediaDescriptions {
		d := types.Description{Type: types.MediaAudio}
		if strings.EqualFold(md.MediaName.Media, "video") {
			d.Type = types.MediaVideo
		}
		for _, attr := range md.Attributes {
			switch attr.Key {
			case "ice-ufrag":
				d.ICEUsername = attr.Value
			case "ice-pwd":
				d.ICEPassword = attr.Value
			case "ssrc":
				if v, err := strconv.ParseUint(attr.Value, 10, 32); err == nil {
					d.SSRC = uint32(v)
				}
			case "rtpmap":
				d.Codecs = append(d.Codecs, attr.Value)
			case "candidate":
				d.Candidates = append(d.Candidates, attr.Value)
			case "crypto":
				d.CryptoParams = append(d.CryptoParams, attr.Value)
			case "end-of-candidates":
				d.Final = true
			}
		}
		descs = append(descs, d)
	}
	return descs, nil
}
