package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ChuLiYu/line-planner/internal/capacity"
	"github.com/ChuLiYu/line-planner/internal/controller"
	"github.com/ChuLiYu/line-planner/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to a PlannerService over gRPC.
//
// Domain errors come back wrapped around the matching sentinel in
// pkg/types, so errors.Is works across the wire.
type Client struct {
	conn    *grpc.ClientConn
	owned   bool
	timeout time.Duration
}

// Dial connects to a planner server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &Client{conn: conn, owned: true, timeout: 5 * time.Second}, nil
}

// NewClient wraps an existing connection; Close leaves it open.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn, timeout: 5 * time.Second}
}

// Close closes the connection if the client created it.
func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	in, err := toStruct(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return fromStatus(err)
	}
	if resp == nil {
		return nil
	}
	if err := fromStruct(out, resp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// fromStatus restores a domain sentinel from a "<Kind>: <detail>" message.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	kind, detail, found := strings.Cut(st.Message(), ": ")
	if !found {
		return err
	}
	if sentinel := types.ErrorForKind(kind); sentinel != nil {
		return fmt.Errorf("%w (remote: %s)", sentinel, detail)
	}
	return err
}

func (c *Client) AddWorker(ctx context.Context, name string, role types.Role, hoursPerDay float64) (types.WorkerID, error) {
	var resp AddWorkerResponse
	err := c.call(ctx, "AddWorker", AddWorkerRequest{Name: name, Role: role, HoursPerDay: hoursPerDay}, &resp)
	return resp.ID, err
}

func (c *Client) RemoveWorker(ctx context.Context, id types.WorkerID, cascade bool) ([]types.Assignment, error) {
	var resp RemoveWorkerResponse
	err := c.call(ctx, "RemoveWorker", RemoveWorkerRequest{ID: id, Cascade: cascade}, &resp)
	return resp.Cleared, err
}

func (c *Client) CreateModel(ctx context.Context, name types.ModelID, stages []types.Stage) error {
	return c.call(ctx, "CreateModel", CreateModelRequest{Name: name, Stages: stages}, nil)
}

func (c *Client) AddPost(ctx context.Context, post types.Post) error {
	return c.call(ctx, "AddPost", post, nil)
}

func (c *Client) RemovePost(ctx context.Context, id types.PostID) error {
	return c.call(ctx, "RemovePost", RemovePostRequest{ID: id}, nil)
}

func (c *Client) Assign(ctx context.Context, date types.Date, postID types.PostID, workerID types.WorkerID) (controller.AssignResult, error) {
	var resp controller.AssignResult
	err := c.call(ctx, "Assign", AssignRequest{Date: date, PostID: postID, WorkerID: workerID}, &resp)
	return resp, err
}

func (c *Client) Unassign(ctx context.Context, date types.Date, postID types.PostID) (types.WorkerID, error) {
	var resp UnassignResponse
	err := c.call(ctx, "Unassign", UnassignRequest{Date: date, PostID: postID}, &resp)
	return resp.Previous, err
}

func (c *Client) AssignmentsFor(ctx context.Context, date types.Date) ([]types.Assignment, error) {
	var resp AssignmentsForResponse
	err := c.call(ctx, "AssignmentsFor", AssignmentsForRequest{Date: date}, &resp)
	return resp.Assignments, err
}

func (c *Client) CapacityFor(ctx context.Context, model types.ModelID, date types.Date) (capacity.Breakdown, error) {
	var resp capacity.Breakdown
	err := c.call(ctx, "CapacityFor", CapacityForRequest{Model: model, Date: date}, &resp)
	return resp, err
}

func (c *Client) CreateOrder(ctx context.Context, model types.ModelID, quantity int) (types.OrderID, error) {
	var resp CreateOrderResponse
	err := c.call(ctx, "CreateOrder", CreateOrderRequest{Model: model, Quantity: quantity}, &resp)
	return resp.ID, err
}

// CreateOrderOn creates an order with an explicit creation date.
func (c *Client) CreateOrderOn(ctx context.Context, model types.ModelID, quantity int, createdOn types.Date) (types.OrderID, error) {
	var resp CreateOrderResponse
	err := c.call(ctx, "CreateOrder", CreateOrderRequest{Model: model, Quantity: quantity, CreatedOn: &createdOn}, &resp)
	return resp.ID, err
}

func (c *Client) RecordProgress(ctx context.Context, id types.OrderID, date types.Date, units int) (types.OrderStatus, error) {
	var resp RecordProgressResponse
	err := c.call(ctx, "RecordProgress", RecordProgressRequest{OrderID: id, Date: date, Units: units}, &resp)
	return resp.Status, err
}

func (c *Client) ProjectedCompletion(ctx context.Context, id types.OrderID) (types.Projection, error) {
	var resp types.Projection
	err := c.call(ctx, "ProjectedCompletion", OrderRequest{OrderID: id}, &resp)
	return resp, err
}

func (c *Client) OrderSummary(ctx context.Context, id types.OrderID) (types.OrderSummary, error) {
	var resp types.OrderSummary
	err := c.call(ctx, "OrderSummary", OrderRequest{OrderID: id}, &resp)
	return resp, err
}

func (c *Client) Status(ctx context.Context) (controller.Status, error) {
	var resp controller.Status
	err := c.call(ctx, "Status", Empty{}, &resp)
	return resp, err
}
