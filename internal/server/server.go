package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ChuLiYu/line-planner/internal/capacity"
	"github.com/ChuLiYu/line-planner/internal/controller"
	"github.com/ChuLiYu/line-planner/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "planner.v1.PlannerService"

// PlannerServiceServer is implemented by Server; it exists so the service
// descriptor can name a handler type.
type PlannerServiceServer interface {
	Controller() *controller.Controller
}

// Server implements the gRPC surface over a Controller.
//
// Every method takes and returns a google.protobuf.Struct whose fields
// mirror the JSON form of the request and response types below.
type Server struct {
	ctrl *controller.Controller
	log  *slog.Logger
}

// NewServer creates a new gRPC server instance.
func NewServer(ctrl *controller.Controller, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{ctrl: ctrl, log: log}
}

// Controller returns the underlying controller.
func (s *Server) Controller() *controller.Controller {
	return s.ctrl
}

// Register attaches the planner service to a gRPC server.
func Register(gs *grpc.Server, s *Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// ============================================================================
// Request / response shapes
// ============================================================================

type AddWorkerRequest struct {
	Name        string     `json:"name"`
	Role        types.Role `json:"role"`
	HoursPerDay float64    `json:"hours_per_day,omitempty"`
}

type AddWorkerResponse struct {
	ID types.WorkerID `json:"id"`
}

type RemoveWorkerRequest struct {
	ID      types.WorkerID `json:"id"`
	Cascade bool           `json:"cascade"`
}

type RemoveWorkerResponse struct {
	Cleared []types.Assignment `json:"cleared"`
}

type CreateModelRequest struct {
	Name   types.ModelID `json:"name"`
	Stages []types.Stage `json:"stages"`
}

type CreateModelResponse struct {
	Name types.ModelID `json:"name"`
}

type RemovePostRequest struct {
	ID types.PostID `json:"id"`
}

type AssignRequest struct {
	Date     types.Date     `json:"date"`
	PostID   types.PostID   `json:"post_id"`
	WorkerID types.WorkerID `json:"worker_id"`
}

type UnassignRequest struct {
	Date   types.Date   `json:"date"`
	PostID types.PostID `json:"post_id"`
}

type UnassignResponse struct {
	Previous types.WorkerID `json:"previous,omitempty"`
}

type AssignmentsForRequest struct {
	Date types.Date `json:"date"`
}

type AssignmentsForResponse struct {
	Date        types.Date         `json:"date"`
	Assignments []types.Assignment `json:"assignments"`
}

type CapacityForRequest struct {
	Model types.ModelID `json:"model"`
	Date  types.Date    `json:"date"`
}

type CreateOrderRequest struct {
	Model     types.ModelID `json:"model"`
	Quantity  int           `json:"quantity"`
	CreatedOn *types.Date   `json:"created_on,omitempty"` // 未填為今日
}

type CreateOrderResponse struct {
	ID types.OrderID `json:"id"`
}

type RecordProgressRequest struct {
	OrderID types.OrderID `json:"order_id"`
	Date    types.Date    `json:"date"`
	Units   int           `json:"units"`
}

type RecordProgressResponse struct {
	Status types.OrderStatus `json:"status"`
}

type OrderRequest struct {
	OrderID types.OrderID `json:"order_id"`
}

type Empty struct{}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) addWorker(_ context.Context, req AddWorkerRequest) (AddWorkerResponse, error) {
	id, err := s.ctrl.AddWorker(req.Name, req.Role, req.HoursPerDay)
	return AddWorkerResponse{ID: id}, err
}

func (s *Server) removeWorker(_ context.Context, req RemoveWorkerRequest) (RemoveWorkerResponse, error) {
	cleared, err := s.ctrl.RemoveWorker(req.ID, req.Cascade)
	if cleared == nil {
		cleared = []types.Assignment{}
	}
	return RemoveWorkerResponse{Cleared: cleared}, err
}

func (s *Server) createModel(_ context.Context, req CreateModelRequest) (CreateModelResponse, error) {
	name, err := s.ctrl.CreateModel(req.Name, req.Stages)
	return CreateModelResponse{Name: name}, err
}

func (s *Server) addPost(_ context.Context, req types.Post) (Empty, error) {
	return Empty{}, s.ctrl.AddPost(req)
}

func (s *Server) removePost(_ context.Context, req RemovePostRequest) (Empty, error) {
	return Empty{}, s.ctrl.RemovePost(req.ID)
}

func (s *Server) assign(_ context.Context, req AssignRequest) (controller.AssignResult, error) {
	return s.ctrl.Assign(req.Date, req.PostID, req.WorkerID)
}

func (s *Server) unassign(_ context.Context, req UnassignRequest) (UnassignResponse, error) {
	prev, err := s.ctrl.Unassign(req.Date, req.PostID)
	return UnassignResponse{Previous: prev}, err
}

func (s *Server) assignmentsFor(_ context.Context, req AssignmentsForRequest) (AssignmentsForResponse, error) {
	resp := AssignmentsForResponse{Date: req.Date, Assignments: []types.Assignment{}}
	for _, a := range s.ctrl.Planner().Assignments(req.Date) {
		if a.Date != req.Date {
			break
		}
		resp.Assignments = append(resp.Assignments, a)
	}
	return resp, nil
}

func (s *Server) capacityFor(_ context.Context, req CapacityForRequest) (capacity.Breakdown, error) {
	return s.ctrl.CapacityFor(req.Model, req.Date)
}

func (s *Server) createOrder(_ context.Context, req CreateOrderRequest) (CreateOrderResponse, error) {
	var (
		id  types.OrderID
		err error
	)
	if req.CreatedOn != nil {
		id, err = s.ctrl.CreateOrderOn(req.Model, req.Quantity, *req.CreatedOn)
	} else {
		id, err = s.ctrl.CreateOrder(req.Model, req.Quantity)
	}
	return CreateOrderResponse{ID: id}, err
}

func (s *Server) recordProgress(_ context.Context, req RecordProgressRequest) (RecordProgressResponse, error) {
	st, err := s.ctrl.RecordProgress(req.OrderID, req.Date, req.Units)
	return RecordProgressResponse{Status: st}, err
}

func (s *Server) projectedCompletion(_ context.Context, req OrderRequest) (types.Projection, error) {
	return s.ctrl.ProjectedCompletion(req.OrderID)
}

func (s *Server) orderSummary(_ context.Context, req OrderRequest) (types.OrderSummary, error) {
	return s.ctrl.Summary(req.OrderID)
}

func (s *Server) status(_ context.Context, _ Empty) (controller.Status, error) {
	return s.ctrl.Status(), nil
}

// ============================================================================
// Service descriptor
// ============================================================================

// ServiceDesc describes planner.v1.PlannerService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PlannerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("AddWorker", (*Server).addWorker),
		unary("RemoveWorker", (*Server).removeWorker),
		unary("CreateModel", (*Server).createModel),
		unary("AddPost", (*Server).addPost),
		unary("RemovePost", (*Server).removePost),
		unary("Assign", (*Server).assign),
		unary("Unassign", (*Server).unassign),
		unary("AssignmentsFor", (*Server).assignmentsFor),
		unary("CapacityFor", (*Server).capacityFor),
		unary("CreateOrder", (*Server).createOrder),
		unary("RecordProgress", (*Server).recordProgress),
		unary("ProjectedCompletion", (*Server).projectedCompletion),
		unary("OrderSummary", (*Server).orderSummary),
		unary("Status", (*Server).status),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "planner/v1/planner.proto",
}

// unary adapts a typed handler to a grpc.MethodDesc carrying Struct messages.
func unary[Req, Resp any](name string, h func(*Server, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, req any) (any, error) {
				s := srv.(*Server)
				var typed Req
				if err := fromStruct(req.(*structpb.Struct), &typed); err != nil {
					return nil, status.Errorf(codes.InvalidArgument, "decode %s request: %v", name, err)
				}
				resp, err := h(s, ctx, typed)
				if err != nil {
					s.log.Debug("Request rejected", "method", name, "error", err)
					return nil, toStatus(err)
				}
				out, err := toStruct(resp)
				if err != nil {
					return nil, status.Errorf(codes.Internal, "encode %s response: %v", name, err)
				}
				return out, nil
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, call)
		},
	}
}

// ============================================================================
// Conversion helpers
// ============================================================================

// toStruct converts any JSON-serializable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(in *structpb.Struct, v any) error {
	if in == nil {
		in = new(structpb.Struct)
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// codeFor maps an error kind to a gRPC status code.
func codeFor(kind string) codes.Code {
	switch kind {
	case "UnknownPost", "UnknownWorker", "UnknownModel", "UnknownOrder":
		return codes.NotFound
	case "DuplicateName":
		return codes.AlreadyExists
	case "PastDateImmutable", "WorkerDoubleBooked", "HasFutureAssignment", "AlreadyComplete":
		return codes.FailedPrecondition
	case "RoleMismatch", "EmptyStageList", "InvalidTime", "UnknownStageType",
		"InvalidQuantity", "NegativeUnits", "ExceedsQuantity":
		return codes.InvalidArgument
	}
	return codes.Internal
}

// toStatus converts a domain error into a gRPC status error.
// The message is "<Kind>: <detail>" so clients can restore the sentinel.
func toStatus(err error) error {
	if kind := types.KindOf(err); kind != "" {
		return status.Errorf(codeFor(kind), "%s: %v", kind, err)
	}
	if errors.Is(err, controller.ErrNotStarted) || errors.Is(err, controller.ErrStopped) {
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, fmt.Sprintf("internal: %v", err))
}
