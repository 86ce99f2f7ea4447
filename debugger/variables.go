package debugger

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/fansqz/jdwp-debugger/constants"
	e "github.com/fansqz/jdwp-debugger/error"
	"github.com/fansqz/jdwp-debugger/jdwp"
	"github.com/sirupsen/logrus"
)

// GetLocalVariables 读取挂起线程某个栈帧里的局部变量。
// 栈帧id本身不带方法信息，先从线程的栈帧列表里找到它的location，
// 再查方法的变量表，最后按槽位取值。
func (s *Session) GetLocalVariables(ctx context.Context, thread jdwp.ThreadID, frame jdwp.FrameID) ([]*Variable, error) {
	if s.Closed() {
		return nil, e.ErrSessionClosed
	}
	frames, err := s.client.Frames(ctx, thread, 0, -1)
	if err != nil {
		return nil, err
	}
	var location *jdwp.Location
	for _, f := range frames {
		if f.Frame == frame {
			l := f.Location
			location = &l
			break
		}
	}
	if location == nil {
		return nil, fmt.Errorf("frame %d not found on thread %d", uint64(frame), uint64(thread))
	}

	table, err := s.client.VariableTable(ctx, jdwp.ReferenceTypeID(location.Class), location.Method)
	if err != nil {
		return nil, err
	}
	if len(table.Slots) == 0 {
		return nil, nil
	}

	slots := make([]jdwp.SlotRequest, 0, len(table.Slots))
	for _, v := range table.Slots {
		slots = append(slots, jdwp.SlotRequest{
			Slot: v.Slot,
			Tag:  signatureToTag(v.Signature),
		})
	}
	values, err := s.client.FrameValues(ctx, thread, frame, slots)
	if err != nil {
		return nil, err
	}

	variables := make([]*Variable, 0, len(values))
	for i, value := range values {
		if i >= len(table.Slots) {
			break
		}
		variables = append(variables, &Variable{
			Name:      table.Slots[i].Name,
			Type:      table.Slots[i].Signature,
			Value:     s.formatValue(ctx, value),
			Reference: referenceOf(value),
		})
	}
	return variables, nil
}

// InspectObject 读取对象的全部实例字段
func (s *Session) InspectObject(ctx context.Context, object jdwp.ObjectID) ([]*Variable, error) {
	if s.Closed() {
		return nil, e.ErrSessionClosed
	}
	_, refType, err := s.client.ReferenceType(ctx, object)
	if err != nil {
		return nil, err
	}
	signature, err := s.client.Signature(ctx, refType)
	if err != nil {
		return nil, err
	}
	fields, err := s.client.Fields(ctx, refType)
	if err != nil {
		return nil, err
	}
	// 静态字段不属于对象，过滤掉
	const accStatic = 0x0008
	instanceFields := make([]jdwp.FieldInfo, 0, len(fields))
	for _, f := range fields {
		if f.ModBits&accStatic == 0 {
			instanceFields = append(instanceFields, f)
		}
	}
	if len(instanceFields) == 0 {
		return nil, nil
	}
	ids := make([]jdwp.FieldID, 0, len(instanceFields))
	for _, f := range instanceFields {
		ids = append(ids, f.ID)
	}
	values, err := s.client.GetFieldValues(ctx, object, ids)
	if err != nil {
		return nil, err
	}
	variables := make([]*Variable, 0, len(values))
	for i, value := range values {
		if i >= len(instanceFields) {
			break
		}
		variables = append(variables, &Variable{
			Name:      instanceFields[i].Name,
			Type:      instanceFields[i].Signature,
			Value:     s.formatValue(ctx, value),
			Reference: referenceOf(value),
		})
	}
	logrus.Infof("[Session] inspect object %d (%s): %d fields", uint64(object), signature, len(variables))
	return variables, nil
}

// GetArrayValues 读取数组的一段元素，count为0时从first读到数组末尾
func (s *Session) GetArrayValues(ctx context.Context, array jdwp.ArrayID, first int32, count int32) ([]*Variable, error) {
	if s.Closed() {
		return nil, e.ErrSessionClosed
	}
	length, err := s.client.ArrayLength(ctx, array)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		count = length - first
	}
	if count <= 0 || first < 0 || first >= length {
		return nil, nil
	}
	if first+count > length {
		count = length - first
	}
	values, err := s.client.ArrayValues(ctx, array, first, count)
	if err != nil {
		return nil, err
	}
	variables := make([]*Variable, 0, len(values))
	for i, value := range values {
		variables = append(variables, &Variable{
			Name:      fmt.Sprintf("[%d]", first+int32(i)),
			Value:     s.formatValue(ctx, value),
			Reference: referenceOf(value),
		})
	}
	return variables, nil
}

// formatValue 把tagged value转成展示字符串。
// 字符串取内容，数组显示长度，其他对象显示引用id，基础类型按tag格式化。
func (s *Session) formatValue(ctx context.Context, v jdwp.TaggedValue) string {
	switch v.Tag {
	case constants.TagVoid:
		return "void"
	case constants.TagBoolean:
		if v.Number != 0 {
			return "true"
		}
		return "false"
	case constants.TagChar:
		return fmt.Sprintf("'%c'", rune(uint16(v.Number)))
	case constants.TagByte, constants.TagShort, constants.TagInt, constants.TagLong:
		return fmt.Sprintf("%d", v.Int())
	case constants.TagFloat:
		return fmt.Sprintf("%g", math.Float32frombits(uint32(v.Number)))
	case constants.TagDouble:
		return fmt.Sprintf("%g", math.Float64frombits(v.Number))
	case constants.TagString:
		if v.Object == 0 {
			return "null"
		}
		value, err := s.client.StringValue(ctx, jdwp.StringID(v.Object))
		if err != nil {
			logrus.Warnf("[Session] get string value fail, err = %v", err)
			return fmt.Sprintf("string@%d", uint64(v.Object))
		}
		return fmt.Sprintf("%q", value)
	case constants.TagArray:
		if v.Object == 0 {
			return "null"
		}
		length, err := s.client.ArrayLength(ctx, jdwp.ArrayID(v.Object))
		if err != nil {
			return fmt.Sprintf("array@%d", uint64(v.Object))
		}
		return fmt.Sprintf("array[%d]", length)
	default:
		if v.Object == 0 {
			return "null"
		}
		return fmt.Sprintf("object@%d", uint64(v.Object))
	}
}

// referenceOf 对象类型的值返回引用id
func referenceOf(v jdwp.TaggedValue) uint64 {
	if v.IsObject() {
		return uint64(v.Object)
	}
	return 0
}

// signatureToTag 由JNI签名推断值的tag。
// 数组用Array，对象类型细分出字符串，其余引用类型统一用Object，虚拟机会在
// 返回值里带上真实tag。
func signatureToTag(signature string) constants.Tag {
	if signature == "" {
		return constants.TagObject
	}
	switch signature[0] {
	case 'B':
		return constants.TagByte
	case 'C':
		return constants.TagChar
	case 'D':
		return constants.TagDouble
	case 'F':
		return constants.TagFloat
	case 'I':
		return constants.TagInt
	case 'J':
		return constants.TagLong
	case 'S':
		return constants.TagShort
	case 'Z':
		return constants.TagBoolean
	case '[':
		return constants.TagArray
	case 'L':
		if strings.HasPrefix(signature, "Ljava/lang/String;") {
			return constants.TagString
		}
		return constants.TagObject
	default:
		return constants.TagObject
	}
}
