package utils

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"dao-voting-sol/internal/logic/domain"
	"dao-voting-sol/internal/types"
)

// EncodeEvent 将 protobuf 消息编码为带事件类型前缀的二进制数据：
// - 前 4 字节为事件类型（uint32，小端序）
// - 后续为 protobuf 序列化数据（使用 MarshalAppend）
func EncodeEvent(eventType uint32, msg proto.Message) ([]byte, error) {
	const extraBuffer = 32 // 多预留一些空间，降低 MarshalAppend 触发扩容的概率

	size := proto.Size(msg)
	buf := make([]byte, 4, 4+size+extraBuffer)
	binary.LittleEndian.PutUint32(buf[:4], eventType)

	opts := proto.MarshalOptions{Deterministic: true}
	result, err := opts.MarshalAppend(buf, msg)
	if err != nil {
		return nil, fmt.Errorf("EncodeEvent: marshal %T: %w", msg, err)
	}
	return result, nil
}

// DecodeEvent 拆出事件类型并把剩余部分解码到 msg
func DecodeEvent(data []byte, msg proto.Message) (uint32, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("DecodeEvent: message too short (%d bytes)", len(data))
	}
	eventType := binary.LittleEndian.Uint32(data[:4])
	if err := proto.Unmarshal(data[4:], msg); err != nil {
		return eventType, fmt.Errorf("DecodeEvent: unmarshal %T: %w", msg, err)
	}
	return eventType, nil
}

// EncodeActivity 活动事件编码为 structpb.Struct，u64 以十进制字符串保存避免精度丢失
func EncodeActivity(ev *domain.ActivityEvent) ([]byte, error) {
	fields := map[string]any{
		"kind":        ev.Kind.String(),
		"proposal_id": fmt.Sprintf("%d", ev.ProposalID),
		"proposal":    ev.Proposal.String(),
		"actor":       ev.Actor.String(),
		"signature":   ev.Signature,
		"timestamp":   float64(ev.Timestamp),
	}
	switch ev.Kind {
	case domain.ActivityProposalCreated:
		fields["title"] = ev.Title
	case domain.ActivityVoteCast:
		fields["choice"] = ev.Choice.String()
	case domain.ActivityStatusChanged:
		fields["status"] = ev.Status.String()
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("EncodeActivity: %w", err)
	}
	return EncodeEvent(uint32(ev.Kind), st)
}

// DecodeActivity EncodeActivity 的逆过程
func DecodeActivity(data []byte) (*domain.ActivityEvent, error) {
	var st structpb.Struct
	kind, err := DecodeEvent(data, &st)
	if err != nil {
		return nil, err
	}
	f := st.GetFields()
	ev := &domain.ActivityEvent{
		Kind:      domain.ActivityKind(kind),
		Signature: f["signature"].GetStringValue(),
		Timestamp: int64(f["timestamp"].GetNumberValue()),
		Title:     f["title"].GetStringValue(),
	}
	if _, err := fmt.Sscan(f["proposal_id"].GetStringValue(), &ev.ProposalID); err != nil {
		return nil, fmt.Errorf("DecodeActivity: proposal_id: %w", err)
	}
	if ev.Proposal, err = types.TryPubkeyFromBase58(f["proposal"].GetStringValue()); err != nil {
		return nil, fmt.Errorf("DecodeActivity: proposal: %w", err)
	}
	if ev.Actor, err = types.TryPubkeyFromBase58(f["actor"].GetStringValue()); err != nil {
		return nil, fmt.Errorf("DecodeActivity: actor: %w", err)
	}
	if c := f["choice"].GetStringValue(); c != "" {
		if ev.Choice, err = domain.ParseVoteChoice(c); err != nil {
			return nil, fmt.Errorf("DecodeActivity: %w", err)
		}
	}
	if s := f["status"].GetStringValue(); s != "" {
		if ev.Status, err = domain.ParseProposalStatus(s); err != nil {
			return nil, fmt.Errorf("DecodeActivity: %w", err)
		}
	}
	return ev, nil
}
